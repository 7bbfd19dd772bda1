package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/thusser/pybs/internal/domain"
)

const bodyTemplate = `PBS Job Id: %d
Job Name:   %s

Submitted:  %s
Started:    %s
Finished:   %s

Filename:   %s
Exit code:  %d

Last 10 lines of standard output (if any):
%s

Last 10 lines of error output (if any):
%s`

// RenderBody builds the notification body exactly to spec.md §6.3's template.
func RenderBody(job *domain.Job, exitCode int, stdout, stderr []byte) string {
	return fmt.Sprintf(bodyTemplate,
		job.ID, job.Name,
		formatTime(job.Submitted), formatTimePtr(job.Started), formatTimePtr(job.Finished),
		job.Filename, exitCode,
		lastLines(stdout), lastLines(stderr),
	)
}

// Subject builds the notification subject per spec.md §6.3.
func Subject(job *domain.Job, exitCode int) string {
	outcome := "finished"
	if exitCode != 0 {
		outcome = "failed"
	}
	return fmt.Sprintf("PyBS JOB %d %s %s", job.ID, job.Name, outcome)
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "None"
	}
	return formatTime(*t)
}

// lastLines returns the last 10 lines of a captured stream, or "None" when
// there was no output — matching the Python original's behavior of
// joining bytes.decode().split('\n')[-10:].
func lastLines(b []byte) string {
	if len(b) == 0 {
		return "None"
	}
	lines := strings.Split(string(b), "\n")
	if len(lines) > 10 {
		lines = lines[len(lines)-10:]
	}
	return strings.Join(lines, "\n")
}

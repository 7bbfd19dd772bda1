package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/thusser/pybs/internal/capacity"
	"github.com/thusser/pybs/internal/domain"
	"github.com/thusser/pybs/internal/header"
	"github.com/thusser/pybs/internal/metrics"
	"github.com/thusser/pybs/internal/notify"
	"github.com/thusser/pybs/internal/registry"
	"github.com/thusser/pybs/internal/repository"
)

// Supervisor is C3 — it spawns a job's script, captures its streams,
// records completion, and releases capacity (spec.md §4.3).
type Supervisor struct {
	store      repository.JobStore
	registry   *registry.Registry
	accountant capacity.Accountant
	notifiers  *notify.Registry
	rootDir    string
	logger     *slog.Logger
}

func NewSupervisor(store repository.JobStore, reg *registry.Registry, accountant capacity.Accountant, notifiers *notify.Registry, rootDir string, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		store:      store,
		registry:   reg,
		accountant: accountant,
		notifiers:  notifiers,
		rootDir:    rootDir,
		logger:     logger.With("component", "supervisor"),
	}
}

// Run executes jobID's script to completion. It never returns an error to
// the dispatcher. A spawn failure is treated as exit code -1 and the row is
// still stamped FINISHED. If the row has vanished, cannot be loaded, or
// cannot be stamped FINISHED, Run logs (except for a vanished row) and
// returns without releasing capacity or notifying.
func (s *Supervisor) Run(ctx context.Context, jobID int64) {
	job, err := s.store.GetByID(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		// Row disappeared between dispatch and run — remove raced us. Nothing to do.
		return
	}
	if err != nil {
		s.logger.Error("load job for supervision", "job_id", jobID, "error", err)
		return
	}

	absPath := filepath.Join(s.rootDir, job.Filename)
	cwd := filepath.Dir(absPath)

	fields, err := header.Parse(absPath)
	if err != nil {
		s.logger.Error("re-parse header", "job_id", jobID, "error", err)
		fields = header.Fields{}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(absPath)
	cmd.Dir = cwd
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	start := time.Now()
	if err := cmd.Start(); err != nil {
		s.logger.Error("spawn job", "job_id", jobID, "filename", absPath, "error", err)
		exitCode = -1 // SpawnError per spec.md §4.3 — treated as if exit code -1
	} else {
		s.registry.Insert(jobID, cmd)
		s.logger.Info("job started", "job_id", jobID, "filename", absPath)

		waitErr := cmd.Wait()
		s.registry.Delete(jobID) // remove before stamping finished (spec.md §9 ordering)

		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		} else if waitErr != nil {
			exitCode = -1
		}
	}
	duration := time.Since(start)

	s.writeCapture(fields, "output", cwd, stdout.Bytes())
	s.writeCapture(fields, "error", cwd, stderr.Bytes())

	finished := time.Now()
	job, err = s.store.Finish(ctx, jobID, finished)
	if err != nil {
		s.logger.Error("stamp job finished", "job_id", jobID, "error", err)
		return
	}
	job.Finished = &finished

	s.accountant.Release(job.NCPUs)

	outcome := "success"
	if exitCode != 0 {
		outcome = "failure"
	}
	metrics.JobExecutionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	metrics.JobsFinishedTotal.WithLabelValues(outcome).Inc()

	s.logger.Info("job finished", "job_id", jobID, "exit_code", exitCode)

	s.notify(ctx, job, fields, exitCode, stdout.Bytes(), stderr.Bytes())
}

// writeCapture persists a captured stream to the path named by the header's
// "output"/"error" key, tolerating I/O failures silently (CaptureIOError,
// spec.md §4.3 point 1-2 / §7 — advisory only, never user-visible).
func (s *Supervisor) writeCapture(fields header.Fields, key, cwd string, data []byte) {
	path, ok := fields[key]
	if !ok {
		return
	}
	full := filepath.Join(cwd, path)
	if err := os.WriteFile(full, data, 0664); err != nil {
		s.logger.Warn("write capture file", "path", full, "error", err)
		return
	}
	_ = os.Chmod(full, 0664)
}

// notify fires the configured notifier(s) when send_mail is present and the
// exit code is consistent with the requested mode (spec.md §4.3 point 6).
func (s *Supervisor) notify(ctx context.Context, job *domain.Job, fields header.Fields, exitCode int, stdout, stderr []byte) {
	mode, ok := fields["send_mail"]
	if !ok {
		return
	}
	wantsSuccess := strings.Contains(mode, "e") && exitCode == 0
	wantsFailure := strings.Contains(mode, "a") && exitCode != 0
	if !wantsSuccess && !wantsFailure {
		return
	}

	subject := notify.Subject(job, exitCode)
	body := notify.RenderBody(job, exitCode, stdout, stderr)

	if recipient, ok := fields["email"]; ok {
		s.notifiers.Send(ctx, "email", recipient, subject, body)
	}
	if channel, ok := fields["chat"]; ok {
		s.notifiers.Send(ctx, "chat", channel, subject, body)
	}
}

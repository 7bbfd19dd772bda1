// Package header extracts #PBS directives from a submitted script.
package header

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/thusser/pybs/internal/domain"
)

var directiveRe = regexp.MustCompile(`^#PBS -([A-Za-z]) (.*)$`)

// Fields is the raw directive map, keyed the way spec.md §4.1 names them:
// "name", "error", "output", "send_mail", "email", "priority", plus
// whatever keys an "l" directive's left-hand side names (e.g. "ncpus").
type Fields map[string]string

// Parse scans every line of the file at path for #PBS directives. It does
// not require directives to be contiguous or at the top of the file, and
// does not stop at the first non-directive line — including one inside a
// heredoc, which is intentionally scanned like any other line
// (spec.md §9, preserving the behavior of the Python original).
func Parse(path string) (Fields, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open header: %w", err)
	}
	defer f.Close()

	fields := Fields{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := directiveRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		letter, value := m[1], m[2]
		switch letter {
		case "N":
			fields["name"] = value
		case "l":
			k, v, _ := strings.Cut(value, "=")
			fields[k] = v
		case "e":
			fields["error"] = value
		case "o":
			fields["output"] = value
		case "m":
			fields["send_mail"] = value
		case "M":
			fields["email"] = value
		case "p":
			fields["priority"] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan header: %w", err)
	}
	return fields, nil
}

// Job is the subset of Fields validated and typed for job submission.
type Job struct {
	Name     string
	NCPUs    int
	Priority int
	Nodes    []string
}

// ParseJob parses path and validates that it carries at least a name and
// an ncpus directive, per spec.md §6.1. Validation beyond presence (e.g.
// whether ncpus is a positive integer) is the caller's responsibility per
// spec.md §4.1, but a non-numeric ncpus cannot be turned into a Job at all,
// so that failure is reported here too.
func ParseJob(path string) (*Job, Fields, error) {
	fields, err := Parse(path)
	if err != nil {
		return nil, nil, err
	}

	name, ok := fields["name"]
	if !ok || name == "" {
		return nil, fields, fmt.Errorf("%w: no job name given in PBS header", domain.ErrValidation)
	}
	ncpusStr, ok := fields["ncpus"]
	if !ok {
		return nil, fields, fmt.Errorf("%w: no ncpus given in PBS header", domain.ErrValidation)
	}
	ncpus, err := strconv.Atoi(ncpusStr)
	if err != nil {
		return nil, fields, fmt.Errorf("%w: ncpus is not an integer: %s", domain.ErrValidation, ncpusStr)
	}

	job := &Job{Name: name, NCPUs: ncpus}
	if nodesStr, ok := fields["nodes"]; ok && nodesStr != "" {
		job.Nodes = strings.Split(nodesStr, ",")
	}
	if prioStr, ok := fields["priority"]; ok {
		if p, err := strconv.Atoi(prioStr); err == nil {
			job.Priority = p
		}
	}
	return job, fields, nil
}

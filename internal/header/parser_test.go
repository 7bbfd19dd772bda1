package header_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/thusser/pybs/internal/header"
)

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "job.sh")
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// P6: parsing a synthetic header with one line per recognized directive
// yields a mapping equal to the input.
func TestParse_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, `#!/bin/sh
#PBS -N myjob
#PBS -l ncpus=20
#PBS -l nodes=n1,n2
#PBS -e /tmp/job.error
#PBS -o /tmp/job.output
#PBS -m ae
#PBS -M user@example.com
#PBS -p 5
echo ok
`)

	got, err := header.Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := header.Fields{
		"name":      "myjob",
		"ncpus":     "20",
		"nodes":     "n1,n2",
		"error":     "/tmp/job.error",
		"output":    "/tmp/job.output",
		"send_mail": "ae",
		"email":     "user@example.com",
		"priority":  "5",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

// Directives are scanned wherever they occur in the file, including past
// non-comment lines and inside what would be a heredoc body — the parser
// never stops scanning early (spec.md §9).
func TestParse_DirectivesNotRestrictedToHead(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, `#!/bin/sh
echo "this is not a directive"
cat <<EOF
#PBS -N from-heredoc
EOF
#PBS -l ncpus=2
`)

	got, err := header.Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["name"] != "from-heredoc" {
		t.Fatalf("expected heredoc directive to be scanned, got %#v", got)
	}
	if got["ncpus"] != "2" {
		t.Fatalf("expected trailing directive to be scanned, got %#v", got)
	}
}

func TestParse_IgnoresBlankAndNonDirectiveLines(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "#!/bin/sh\n\n# just a comment\n#PBS -N t\n\n#PBS -l ncpus=1\n")

	got, err := header.Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected exactly 2 directives, got %#v", got)
	}
}

func TestParseJob_RequiresNameAndNCPUs(t *testing.T) {
	dir := t.TempDir()

	path := writeScript(t, dir, "#!/bin/sh\n#PBS -l ncpus=1\n")
	if _, _, err := header.ParseJob(path); err == nil {
		t.Fatal("expected error for missing name")
	}

	path = writeScript(t, dir, "#!/bin/sh\n#PBS -N t\n")
	if _, _, err := header.ParseJob(path); err == nil {
		t.Fatal("expected error for missing ncpus")
	}

	path = writeScript(t, dir, "#!/bin/sh\n#PBS -N t\n#PBS -l ncpus=4\n#PBS -l nodes=n1,n2\n#PBS -p -3\n")
	job, _, err := header.ParseJob(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Name != "t" || job.NCPUs != 4 || job.Priority != -3 {
		t.Fatalf("unexpected job: %#v", job)
	}
	if !reflect.DeepEqual(job.Nodes, []string{"n1", "n2"}) {
		t.Fatalf("unexpected nodes: %#v", job.Nodes)
	}
}

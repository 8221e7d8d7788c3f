package testutil

import (
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var update = flag.Bool("update", false, "update golden files")

// Golden compares test output against files under a testdata directory.
// Run the tests with -update to rewrite the files from actual output.
type Golden struct {
	t       *testing.T
	baseDir string
}

// NewGolden returns a golden helper rooted at baseDir.
func NewGolden(t *testing.T, baseDir string) *Golden {
	return &Golden{t: t, baseDir: baseDir}
}

// Assert compares actual against <baseDir>/<name>.golden. Both sides are
// normalized first so a trailing newline in the file does not fail the test.
func (g *Golden) Assert(name string, actual []byte) {
	g.t.Helper()

	path := filepath.Join(g.baseDir, name+".golden")

	if *update {
		g.updateGolden(path, actual)
		return
	}

	expected, err := os.ReadFile(path)
	if err != nil {
		g.t.Fatalf("reading golden file %s: %v", path, err)
	}

	want := Normalize(string(expected))
	got := Normalize(string(actual))
	if got != want {
		g.t.Errorf("output mismatch for %s:\n--- want ---\n%s\n--- got ---\n%s", name, want, got)
	}
}

// AssertString is Assert for string output.
func (g *Golden) AssertString(name, actual string) {
	g.t.Helper()
	g.Assert(name, []byte(actual))
}

func (g *Golden) updateGolden(path string, actual []byte) {
	g.t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		g.t.Fatalf("creating golden directory: %v", err)
	}
	if err := os.WriteFile(path, actual, 0644); err != nil {
		g.t.Fatalf("writing golden file %s: %v", path, err)
	}
	g.t.Logf("updated golden file: %s", path)
}

// Normalize unifies line endings, strips trailing whitespace per line, and
// drops trailing newlines so comparisons ignore formatting noise.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// ScrubTimestamps replaces timestamps with a stable placeholder. The ISO
// pattern stops at quotes so JSON-encoded values keep their closing quote.
func ScrubTimestamps(s string) string {
	patterns := []string{
		`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}[^\s"]*`, // ISO 8601 with fraction and zone
		`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`,
		`\d{2}:\d{2}:\d{2}`,
	}
	for _, pattern := range patterns {
		s = regexp.MustCompile(pattern).ReplaceAllString(s, "[TIMESTAMP]")
	}
	return s
}

// ScrubUUIDs replaces generated run ids with a stable placeholder.
func ScrubUUIDs(s string) string {
	re := regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	return re.ReplaceAllString(s, "[UUID]")
}

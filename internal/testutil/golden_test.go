package testutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/storyline-ai/storyline/internal/testutil"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "CRLF to LF",
			input: "line1\r\nline2\r\n",
			want:  "line1\nline2",
		},
		{
			name:  "trailing whitespace",
			input: "line1   \nline2\t\n",
			want:  "line1\nline2",
		},
		{
			name:  "trailing newlines",
			input: "line1\nline2\n\n\n",
			want:  "line1\nline2",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "already clean",
			input: "line1\nline2",
			want:  "line1\nline2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestScrubTimestamps(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "ISO format with zone",
			input: "started at 2026-01-15T10:30:45Z",
			want:  "started at [TIMESTAMP]",
		},
		{
			name:  "ISO format inside JSON keeps the closing quote",
			input: `"timestamp": "2026-01-15T10:30:45.123456789Z",`,
			want:  `"timestamp": "[TIMESTAMP]",`,
		},
		{
			name:  "standard datetime",
			input: "created 2026-01-15 10:30:45 done",
			want:  "created [TIMESTAMP] done",
		},
		{
			name:  "time only",
			input: "run at 10:30:45",
			want:  "run at [TIMESTAMP]",
		},
		{
			name:  "no timestamps",
			input: "nothing to scrub",
			want:  "nothing to scrub",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ScrubTimestamps(tt.input); got != tt.want {
				t.Errorf("ScrubTimestamps(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestScrubUUIDs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "single UUID",
			input: "run_id=550e8400-e29b-41d4-a716-446655440000",
			want:  "run_id=[UUID]",
		},
		{
			name:  "multiple UUIDs",
			input: "a=550e8400-e29b-41d4-a716-446655440000 b=12345678-1234-1234-1234-123456789012",
			want:  "a=[UUID] b=[UUID]",
		},
		{
			name:  "no UUIDs",
			input: "plain text",
			want:  "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ScrubUUIDs(tt.input); got != tt.want {
				t.Errorf("ScrubUUIDs(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestGolden_Assert(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.golden")
	if err := os.WriteFile(path, []byte("hello\nworld\n"), 0644); err != nil {
		t.Fatal(err)
	}

	g := testutil.NewGolden(t, dir)
	// The trailing newline in the file must not fail the comparison.
	g.AssertString("sample", "hello\nworld")
}

package util

import (
	"bytes"
	"strings"
	"testing"
)

func TestRedactIP(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"203.0.113.42", "203.0.113.0"},
		{"203.0.113.42:51234", "203.0.113.0"},
		{"2001:db8:abcd:12::1", "2001:db8::"},
		{"anonymous", "anonymous"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := RedactIP(tt.in); got != tt.want {
			t.Errorf("RedactIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := RedactIP("not-an-ip"); !strings.HasPrefix(got, "hash:") {
		t.Errorf("non-ip should be hashed, got %q", got)
	}
}

func TestRedactSecret(t *testing.T) {
	in := "connect postgres://app:s3cret@db:5432/gist?password=s3cret"
	out := RedactSecret(in)
	if strings.Contains(out, "s3cret") {
		t.Errorf("secret leaked: %s", out)
	}
}

func TestSnippetPreview(t *testing.T) {
	if got := SnippetPreview("let x=1"); got != "[7 bytes]" {
		t.Errorf("short preview = %q", got)
	}
	long := strings.Repeat("a", 100)
	if got := SnippetPreview(long); got != "aaaaaaaa...[100 bytes]" {
		t.Errorf("long preview = %q", got)
	}
}

func TestLogLevel(t *testing.T) {
	var buf bytes.Buffer
	InitLogTo(&buf, "warn")
	defer InitLogTo(&bytes.Buffer{}, "info")
	Info().Msg("hidden")
	Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn line missing")
	}
}

package repository

import (
	"errors"
	"testing"
)

func TestExtractID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://rutracker.org/forum/viewtopic.php?t=42", "42"},
		{"https://rutracker.org/forum/viewtopic.php?start=30&t=6543210", "6543210"},
		{"viewtopic.php?t=7#post", "7"},
		{"https://site/view?t=0012&x=1", "0012"},
	}
	for _, tt := range tests {
		got, err := ExtractID(tt.url)
		if err != nil {
			t.Fatalf("ExtractID(%q) returned error: %v", tt.url, err)
		}
		if got != tt.want {
			t.Fatalf("ExtractID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestExtractID_Malformed(t *testing.T) {
	for _, url := range []string{
		"",
		"https://rutracker.org/forum/viewtopic.php",
		"https://rutracker.org/forum/viewtopic.php?t=abc",
		"https://rutracker.org/forum/viewtopic.php?st=42",
		"https://example.com/t=42",
	} {
		if _, err := ExtractID(url); !errors.Is(err, ErrMalformedURL) {
			t.Fatalf("ExtractID(%q) error = %v, want ErrMalformedURL", url, err)
		}
	}
}

package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_MissingFile(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "cookies.json"))
	if _, err := s.Load(); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("Load error = %v, want ErrMissingCredentials", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	for name, content := range map[string]string{
		"syntax":    "{bb_session:",
		"empty":     "{}",
		"array":     `["a"]`,
		"nonstring": `{"bb_session": 42}`,
		"blankname": `{" ": "x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			s := NewFileStore(writeFile(t, content))
			if _, err := s.Load(); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("Load error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestLoad_ValidCookies(t *testing.T) {
	s := NewFileStore(writeFile(t, `{"bb_session": "abc", "bb_guid": "xyz"}`))
	creds, err := s.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if creds["bb_session"] != "abc" {
		t.Fatalf("bb_session = %q, want abc", creds["bb_session"])
	}

	cookies := creds.Cookies()
	if len(cookies) != 2 {
		t.Fatalf("len(cookies) = %d, want 2", len(cookies))
	}
	if cookies[0].Name != "bb_guid" || cookies[1].Name != "bb_session" {
		t.Fatalf("cookies not sorted: %s, %s", cookies[0].Name, cookies[1].Name)
	}
}

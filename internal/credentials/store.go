package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
)

var (
	// ErrMissingCredentials indicates the cookie file does not exist.
	ErrMissingCredentials = errors.New("credentials file not found")
	// ErrInvalidCredentials indicates the cookie file is not a non-empty name/value object.
	ErrInvalidCredentials = errors.New("invalid credentials file")
)

// Credentials maps cookie names to values for the tracker session.
type Credentials map[string]string

// Cookies renders the credentials as request cookies in a stable order.
func (c Credentials) Cookies() []*http.Cookie {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		out = append(out, &http.Cookie{Name: name, Value: c[name]})
	}
	return out
}

// Loader provides tracker credentials on demand.
type Loader interface {
	Load() (Credentials, error)
}

// FileStore reads the cookie file on every call so a user can drop in a fresh
// file without restarting the process.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingCredentials, s.path)
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCredentials, s.path, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s: no cookies", ErrInvalidCredentials, s.path)
	}

	creds := make(Credentials, len(raw))
	for name, value := range raw {
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s: cookie %q is not a string", ErrInvalidCredentials, s.path, name)
		}
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: %s: empty cookie name", ErrInvalidCredentials, s.path)
		}
		creds[name] = str
	}
	return creds, nil
}

var _ Loader = (*FileStore)(nil)

package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"trackersync/internal/domain"
)

var (
	// ErrMalformedURL is returned when a topic URL carries no t=<digits> parameter.
	ErrMalformedURL = errors.New("malformed release url")
	// ErrReleaseNotFound is returned by lookups for an id the registry does not track.
	ErrReleaseNotFound = errors.New("release not found")
)

var topicIDPattern = regexp.MustCompile(`[?&]t=(\d+)`)

// ExtractID returns the numeric topic id carried by a release page URL.
func ExtractID(rawURL string) (string, error) {
	m := topicIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrMalformedURL, rawURL)
	}
	return m[1], nil
}

// ReleaseRegistry persists the set of tracked releases.
type ReleaseRegistry interface {
	Load(ctx context.Context) (domain.Registry, error)
	Save(ctx context.Context, reg domain.Registry) error
	Upsert(ctx context.Context, id, savePath, sourceURL string) (created bool, err error)
	Remove(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (domain.Release, error)
	List(ctx context.Context) ([]domain.Release, error)
}

// HistoryRepository journals sync outcomes.
type HistoryRepository interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, runID string, outcome domain.Outcome) error
	ListByRelease(ctx context.Context, releaseID string, limit int) ([]domain.HistoryEntry, error)
	DeleteByRelease(ctx context.Context, releaseID string) error
}

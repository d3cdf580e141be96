package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"trackersync/internal/credentials"
	"trackersync/internal/domain"
	"trackersync/internal/downloadclient"
	"trackersync/internal/repository"
	"trackersync/internal/source"
	"trackersync/internal/storage"
)

var (
	// ErrSavePathRequired is returned by Add when no save directory is given.
	ErrSavePathRequired = errors.New("save path is required")
	// ErrCredentialsUnavailable aborts a sync batch before any network call.
	ErrCredentialsUnavailable = errors.New("tracker credentials unavailable")
	// ErrUnsupportedURL is returned by Add for urls that cannot be used as a
	// download client tag.
	ErrUnsupportedURL = errors.New("url must not contain commas")
)

// Sink receives human-readable progress messages in chronological order.
type Sink func(message string)

// Discard is a Sink that drops every message.
func Discard(string) {}

// SyncService tracks releases and pushes their current torrents to the download client.
type SyncService interface {
	Add(ctx context.Context, rawURL, savePath string, sink Sink) (domain.Release, error)
	SyncAll(ctx context.Context, sink Sink) ([]domain.Outcome, error)
	Remove(ctx context.Context, id string, deleteFiles bool, sink Sink) (bool, error)
	List(ctx context.Context) ([]domain.Release, error)
	History(ctx context.Context, id string, limit int) ([]domain.HistoryEntry, error)
	Archived(ctx context.Context, id string) ([]storage.ObjectInfo, error)
}

// Deps wires the collaborators of the sync service. History and Archive are optional.
type Deps struct {
	Registry    repository.ReleaseRegistry
	Credentials credentials.Loader
	Fetcher     source.Fetcher
	Gateway     downloadclient.Gateway
	History     repository.HistoryRepository
	Archive     storage.Archive
	Logger      *logrus.Logger
}

type syncService struct {
	registry repository.ReleaseRegistry
	creds    credentials.Loader
	fetcher  source.Fetcher
	gateway  downloadclient.Gateway
	history  repository.HistoryRepository
	archive  storage.Archive
	logger   *logrus.Logger
	newRunID func() string
}

func NewSyncService(deps Deps) SyncService {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	return &syncService{
		registry: deps.Registry,
		creds:    deps.Credentials,
		fetcher:  deps.Fetcher,
		gateway:  deps.Gateway,
		history:  deps.History,
		archive:  deps.Archive,
		logger:   deps.Logger,
		newRunID: uuid.NewString,
	}
}

func (s *syncService) Add(ctx context.Context, rawURL, savePath string, sink Sink) (domain.Release, error) {
	p := s.reporter(sink, nil)
	rawURL = strings.TrimSpace(rawURL)
	savePath = strings.TrimSpace(savePath)

	id, err := repository.ExtractID(rawURL)
	if err != nil {
		p.warnf("cannot add %q: no topic id (t=<digits>) in url", rawURL)
		return domain.Release{}, err
	}
	if savePath == "" {
		p.warnf("cannot add release %s: save path is empty", id)
		return domain.Release{}, ErrSavePathRequired
	}
	// the url becomes a qBittorrent tag, and tags are comma separated
	if strings.Contains(rawURL, ",") {
		p.warnf("cannot add release %s: url contains a comma", id)
		return domain.Release{}, ErrUnsupportedURL
	}

	created, err := s.registry.Upsert(ctx, id, savePath, rawURL)
	if err != nil {
		p.warnf("cannot save release %s: %v", id, err)
		return domain.Release{}, fmt.Errorf("upsert release %s: %w", id, err)
	}
	if created {
		p.infof("added release %s, save path %s", id, savePath)
	} else {
		p.infof("updated release %s, save path %s", id, savePath)
	}
	return domain.Release{ID: id, SavePath: savePath, SourceURL: rawURL}, nil
}

func (s *syncService) SyncAll(ctx context.Context, sink Sink) ([]domain.Outcome, error) {
	p := s.reporter(sink, nil)

	reg, err := s.registry.Load(ctx)
	if err != nil {
		p.warnf("cannot load registry: %v", err)
		return nil, fmt.Errorf("load registry: %w", err)
	}
	if reg.Len() == 0 {
		p.infof("no tracked releases, nothing to sync")
		return nil, nil
	}

	if _, err := s.creds.Load(); err != nil {
		p.warnf("sync aborted, tracker credentials unusable: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrCredentialsUnavailable, err)
	}

	runID := s.newRunID()
	runLogger := s.logger.WithField("run_id", runID)
	runLogger.Infof("sync started for %d releases", reg.Len())
	p.infof("syncing %d releases", reg.Len())

	outcomes := make([]domain.Outcome, 0, reg.Len())
	failed := 0
	for _, rel := range reg.Sorted() {
		outcome := s.syncRelease(ctx, rel, s.reporter(sink, runLogger.WithField("release_id", rel.ID)))
		if !outcome.OK {
			failed++
		}
		outcomes = append(outcomes, outcome)
		s.journal(ctx, runID, outcome)
	}

	runLogger.Infof("sync finished: %d ok, %d failed", len(outcomes)-failed, failed)
	p.infof("sync finished: %d ok, %d failed", len(outcomes)-failed, failed)
	return outcomes, nil
}

func (s *syncService) syncRelease(ctx context.Context, rel domain.Release, p reporter) domain.Outcome {
	p.infof("processing release %s", rel.ID)

	fail := func(reason domain.FailureReason, msg string) domain.Outcome {
		p.warnf("release %s failed (%s): %s", rel.ID, reason, msg)
		return domain.Outcome{ReleaseID: rel.ID, Reason: reason, Message: msg}
	}

	art, err := s.fetcher.Fetch(ctx, rel.ID)
	if err != nil {
		reason := domain.ReasonPageUnreachable
		var fetchErr *source.FetchError
		if errors.As(err, &fetchErr) {
			reason = fetchErr.Reason
		}
		return fail(reason, err.Error())
	}

	info, err := source.Inspect(art.Data)
	if err != nil {
		return fail(domain.ReasonInvalidArtifact, err.Error())
	}
	p.infof("fetched %s (%s, %s)", art.Filename, info.Name, source.FormatBytes(info.TotalSize))

	if s.archive != nil {
		if loc, err := s.archive.Store(ctx, rel.ID, art.Filename, art.Data); err != nil {
			p.warnf("archive torrent for release %s: %v", rel.ID, err)
		} else {
			p.log.Debugf("archived torrent at %s", loc)
		}
	}

	err = s.gateway.Submit(ctx, downloadclient.Submission{
		Data:     art.Data,
		Filename: art.Filename,
		SavePath: rel.SavePath,
		Tag:      rel.SourceURL,
		InfoHash: info.InfoHash,
	})
	if err != nil {
		if errors.Is(err, downloadclient.ErrGatewayUnavailable) {
			return fail(domain.ReasonGatewayUnavailable, err.Error())
		}
		return fail(domain.ReasonSubmitRejected, err.Error())
	}

	msg := fmt.Sprintf("release %s submitted to download client (%s)", rel.ID, info.InfoHash)
	p.infof("%s", msg)
	return domain.Outcome{ReleaseID: rel.ID, OK: true, Message: msg, InfoHash: info.InfoHash}
}

func (s *syncService) journal(ctx context.Context, runID string, outcome domain.Outcome) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, runID, outcome); err != nil {
		s.logger.WithField("release_id", outcome.ReleaseID).Warnf("journal sync outcome: %v", err)
	}
}

func (s *syncService) Remove(ctx context.Context, id string, deleteFiles bool, sink Sink) (bool, error) {
	id = strings.TrimSpace(id)
	p := s.reporter(sink, s.logger.WithField("release_id", id))

	rel, err := s.registry.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrReleaseNotFound) {
			p.infof("release %s is not tracked, nothing to do", id)
			return false, nil
		}
		p.warnf("cannot read registry: %v", err)
		return false, fmt.Errorf("get release %s: %w", id, err)
	}

	p.infof("removing release %s (delete files: %t)", id, deleteFiles)
	s.removeRemote(ctx, rel, deleteFiles, p)

	if s.archive != nil && deleteFiles {
		if err := s.archive.DeleteRelease(ctx, id); err != nil {
			p.warnf("delete archived torrents for release %s: %v", id, err)
		}
	}
	if s.history != nil {
		if err := s.history.DeleteByRelease(ctx, id); err != nil {
			p.log.Warnf("delete sync history: %v", err)
		}
	}

	removed, err := s.registry.Remove(ctx, id)
	if err != nil {
		p.warnf("failed to remove release %s locally: %v", id, err)
		return false, fmt.Errorf("remove release %s: %w", id, err)
	}
	if !removed {
		p.infof("release %s was already gone from the registry", id)
		return false, nil
	}
	p.infof("release %s removed", id)
	return true, nil
}

// removeRemote is best effort: any failure is reported and local removal still proceeds.
func (s *syncService) removeRemote(ctx context.Context, rel domain.Release, deleteFiles bool, p reporter) {
	handle, err := s.gateway.FindByTag(ctx, rel.SourceURL)
	switch {
	case errors.Is(err, downloadclient.ErrNotFound):
		p.infof("release %s has no torrent in the download client", rel.ID)
		return
	case err != nil:
		p.warnf("download client unreachable, removing release %s locally only: %v", rel.ID, err)
		return
	}

	err = s.gateway.Delete(ctx, handle, deleteFiles)
	switch {
	case err == nil:
		p.infof("torrent %s removed from download client", handle)
	case errors.Is(err, downloadclient.ErrNotFound):
		p.infof("torrent %s already gone from download client", handle)
	default:
		p.warnf("could not remove torrent %s from download client, removing release %s locally only: %v", handle, rel.ID, err)
	}
}

func (s *syncService) List(ctx context.Context) ([]domain.Release, error) {
	return s.registry.List(ctx)
}

func (s *syncService) History(ctx context.Context, id string, limit int) ([]domain.HistoryEntry, error) {
	if s.history == nil {
		return []domain.HistoryEntry{}, nil
	}
	return s.history.ListByRelease(ctx, id, limit)
}

func (s *syncService) Archived(ctx context.Context, id string) ([]storage.ObjectInfo, error) {
	if s.archive == nil {
		return []storage.ObjectInfo{}, nil
	}
	return s.archive.List(ctx, id)
}

var _ SyncService = (*syncService)(nil)

package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"trackersync/internal/domain"
	"trackersync/internal/repository"
)

// Registry stores tracked releases in a single JSON document. Every mutation
// rewrites the whole file through a temp file and rename.
type Registry struct {
	path   string
	logger *logrus.Logger
	mu     sync.Mutex
}

func NewRegistry(path string, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{path: path, logger: logger}
}

// Path returns the backing file location.
func (r *Registry) Path() string {
	return r.path
}

func (r *Registry) Load(ctx context.Context) (domain.Registry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

func (r *Registry) Save(ctx context.Context, reg domain.Registry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(ctx, reg)
}

func (r *Registry) Upsert(ctx context.Context, id, savePath, sourceURL string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, errors.New("release id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	_, existed := reg.Releases[id]
	reg.Releases[id] = domain.Release{SavePath: savePath, SourceURL: sourceURL}
	if err := r.save(ctx, reg); err != nil {
		return false, err
	}

	logger := r.logger.WithField("release_id", id)
	if existed {
		logger.Infof("release updated, save path %s", savePath)
	} else {
		logger.Infof("release added, save path %s", savePath)
	}
	return !existed, nil
}

func (r *Registry) Remove(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := reg.Releases[id]; !ok {
		return false, nil
	}
	delete(reg.Releases, id)
	if err := r.save(ctx, reg); err != nil {
		return false, err
	}
	r.logger.WithField("release_id", id).Info("release removed from registry")
	return true, nil
}

func (r *Registry) Get(ctx context.Context, id string) (domain.Release, error) {
	reg, err := r.Load(ctx)
	if err != nil {
		return domain.Release{}, err
	}
	rel, ok := reg.Releases[id]
	if !ok {
		return domain.Release{}, fmt.Errorf("%w: %s", repository.ErrReleaseNotFound, id)
	}
	rel.ID = id
	return rel, nil
}

func (r *Registry) List(ctx context.Context) ([]domain.Release, error) {
	reg, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	return reg.Sorted(), nil
}

func (r *Registry) load(ctx context.Context) (domain.Registry, error) {
	if err := ctx.Err(); err != nil {
		return domain.Registry{}, err
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return domain.Registry{}, fmt.Errorf("read registry: %w", err)
		}
		r.logger.Infof("registry %s not found, creating empty one", r.path)
		return r.reset(ctx)
	}

	reg, err := decode(data)
	if err != nil {
		r.logger.Warnf("registry %s is corrupt (%v), recreating", r.path, err)
		return r.reset(ctx)
	}

	for id, rel := range reg.Releases {
		if strings.TrimSpace(rel.SavePath) == "" || strings.TrimSpace(rel.SourceURL) == "" {
			r.logger.WithField("release_id", id).Warn("dropping registry entry without save path or url")
			delete(reg.Releases, id)
		}
	}
	return reg, nil
}

func (r *Registry) reset(ctx context.Context) (domain.Registry, error) {
	reg := domain.NewRegistry()
	if err := r.save(ctx, reg); err != nil {
		return domain.Registry{}, err
	}
	return reg, nil
}

func (r *Registry) save(ctx context.Context, reg domain.Registry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if reg.Releases == nil {
		reg.Releases = map[string]domain.Release{}
	}

	data, err := json.MarshalIndent(reg, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	data = append(data, '\n')

	return writeFileAtomic(r.path, data)
}

func decode(data []byte) (domain.Registry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.Registry{}, errors.New("file is empty")
	}
	var reg domain.Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return domain.Registry{}, err
	}
	if reg.Releases == nil {
		return domain.Registry{}, errors.New(`missing "releases" object`)
	}
	return reg, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp registry: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

var _ repository.ReleaseRegistry = (*Registry)(nil)

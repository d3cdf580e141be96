package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"trackersync/internal/config"
	"trackersync/internal/credentials"
	"trackersync/internal/downloadclient"
	"trackersync/internal/repository/jsonfile"
	"trackersync/internal/repository/sqlite"
	"trackersync/internal/service"
	"trackersync/internal/source"
	"trackersync/internal/storage"
)

// app owns the long-lived collaborators shared by every command.
type app struct {
	sync service.SyncService
	db   *sql.DB
}

func newApp(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*app, error) {
	registry := jsonfile.NewRegistry(cfg.Registry.Path, logger)
	creds := credentials.NewFileStore(cfg.Credentials.Path)

	fetcher, err := source.NewFetcher(source.Config{
		BaseURL:     cfg.Source.BaseURL,
		UserAgent:   cfg.Source.UserAgent,
		Timeout:     cfg.Source.Timeout,
		MinInterval: cfg.Source.MinInterval,
		Logger:      logger,
	}, creds)
	if err != nil {
		return nil, fmt.Errorf("setup fetcher: %w", err)
	}

	gateway, err := downloadclient.NewClient(downloadclient.Config{
		Host:     cfg.QBittorrent.Host,
		Username: cfg.QBittorrent.Username,
		Password: cfg.QBittorrent.Password,
		Timeout:  cfg.QBittorrent.Timeout,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("setup qbittorrent client: %w", err)
	}

	a := &app{}
	deps := service.Deps{
		Registry:    registry,
		Credentials: creds,
		Fetcher:     fetcher,
		Gateway:     gateway,
		Logger:      logger,
	}

	if cfg.History.Path != "" {
		db, err := sqlite.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open history database: %w", err)
		}
		historyRepo := sqlite.NewHistoryRepository(db)
		if err := historyRepo.Init(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init history repository: %w", err)
		}
		a.db = db
		deps.History = historyRepo
	}

	archive, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("setup archive: %w", err)
	}
	if archive != nil {
		deps.Archive = archive
	}

	a.sync = service.NewSyncService(deps)
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
}

// buildArchive returns nil when no bucket is configured.
func buildArchive(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*storage.S3Archive, error) {
	if cfg.Archive.Bucket == "" {
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Archive.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Archive.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Archive.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving torrents to s3 bucket %s (region %s)", cfg.Archive.Bucket, cfg.Archive.Region)
	return storage.NewS3Archive(client, cfg.Archive.Bucket, cfg.Archive.KeyPrefix)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"trackersync/internal/config"
	apphttp "trackersync/internal/http"
	"trackersync/internal/service"
)

const usage = `usage: trackersync [--config FILE] <command> [args]

commands:
  serve                         run the operator HTTP API
  add <url> <save-dir>          track a release
  list                          print tracked releases
  sync                          push the current torrent of every release
  remove <id> [--delete-files]  stop tracking a release
  history <id> [--limit N]      show recent sync outcomes for a release
`

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	flags := pflag.NewFlagSet("trackersync", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configFile := flags.StringP("config", "c", "", "path to config file (yaml, toml or json)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer app.Close()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, app, logger)
	case "add":
		err = runAdd(ctx, app, rest)
	case "list":
		err = runList(ctx, app)
	case "sync":
		err = runSync(ctx, app)
	case "remove":
		err = runRemove(ctx, app, rest)
	case "history":
		err = runHistory(ctx, app, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Errorf("%s: %v", cmd, err)
		app.Close()
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg config.Config, app *app, logger *logrus.Logger) error {
	auth := apphttp.NewAuthenticator(
		cfg.Auth.JWTSecret,
		cfg.Auth.PasswordHash,
		time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute,
	)
	if !auth.Enabled() {
		logger.Warn("auth.jwtsecret not set, API is unauthenticated")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	apphttp.NewHandler(app.sync, auth, logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
	return nil
}

// progressSink prints engine progress on stdout; warnings also reach the log on stderr.
func progressSink() service.Sink {
	return service.WriterSink(os.Stdout)
}

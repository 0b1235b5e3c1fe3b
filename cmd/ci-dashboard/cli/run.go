package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/davarch/ci-dashboard/internal/application"
	"github.com/davarch/ci-dashboard/internal/infrastructure/cache_mem"
	"github.com/davarch/ci-dashboard/internal/infrastructure/config"
	"github.com/davarch/ci-dashboard/internal/infrastructure/gitlab_http"
	"github.com/davarch/ci-dashboard/internal/infrastructure/httpapi"
	"github.com/davarch/ci-dashboard/internal/infrastructure/logging"
	"github.com/davarch/ci-dashboard/internal/infrastructure/state_mem"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion poller and the dashboard API server",
	Run: func(cmd *cobra.Command, args []string) {
		log := logging.New()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}

		log = logging.NewFromConfig(cfg.Log.Level, cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
		defer func() { _ = log.Sync() }()

		gl, err := gitlab_http.New(gitlab_http.Config{
			BaseURL:  cfg.GitLab.BaseURL,
			Token:    cfg.GitLab.Token,
			Timeout:  cfg.GitLab.Timeout,
			PerPage:  cfg.GitLab.PerPage,
			MaxPages: cfg.GitLab.MaxPages,
			CABundle: cfg.GitLab.CABundle,
			Insecure: cfg.GitLab.Insecure,
		}, log)
		if err != nil {
			log.Fatal("gitlab client", zap.Error(err))
		}

		store := state_mem.New()
		cache := cache_mem.New(cfg.HTTP.CacheTTL)
		poller := application.New(log, gl, store, cfg.Poll.Interval, cfg.Poll.ProjectLimit)

		watchAndReload(cfgPath, log, poller)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpapi.New(store, cache, cfg.HTTP.WebDir, log),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go poller.Run(ctx)

		go func() {
			<-ctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()

		log.Info("start",
			zap.String("version", version),
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("gitlab", cfg.GitLab.BaseURL),
			zap.Duration("every", cfg.Poll.Interval),
			zap.Int("project_limit", cfg.Poll.ProjectLimit),
			zap.Int("max_pages", cfg.GitLab.MaxPages),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// watchAndReload applies config edits without a restart. Only the poller's
// project cap is live-tunable; everything else needs a process restart.
func watchAndReload(cfgPath string, log *zap.Logger, poller *application.Poller) {
	if cfgPath == "" {
		return
	}

	dir := filepath.Dir(cfgPath)
	base := filepath.Base(cfgPath)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify init failed", zap.Error(err))
		return
	}

	go func() {
		defer func() { _ = w.Close() }()

		var timer *time.Timer
		fire := func() {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				log.Warn("config reload failed", zap.Error(err))
				return
			}
			poller.UpdateProjectLimit(cfg.Poll.ProjectLimit)
		}

		// Editors write config files in bursts; debounce before reloading.
		startTimer := func() {
			if timer == nil {
				timer = time.AfterFunc(300*time.Millisecond, fire)
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(300 * time.Millisecond)
		}

		if err := w.Add(dir); err != nil {
			log.Warn("fsnotify add dir failed", zap.String("dir", dir), zap.Error(err))
			return
		}

		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}

				if filepath.Base(ev.Name) != base {
					continue
				}

				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					startTimer()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()
}

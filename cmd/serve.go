package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/api"
	"github.com/sells-group/pulse/internal/artifact"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		chatSvc, err := initChat(env)
		if err != nil {
			return err
		}

		sched, err := startPurgeSchedule(env.Artifacts, cfg.Data.PurgeSchedule)
		if err != nil {
			return err
		}
		if sched != nil {
			defer sched.Stop()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildHandler(env, chatSvc),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout())
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		// Jobs are not cancellable; give running ones the shutdown window.
		waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout())
		defer cancel()
		if err := env.Registry.Wait(waitCtx); err != nil {
			zap.L().Warn("exiting with jobs still running", zap.Error(err))
		}
		return nil
	},
}

func shutdownTimeout() time.Duration {
	if cfg.Server.ShutdownSecs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(cfg.Server.ShutdownSecs) * time.Second
}

// buildHandler wires the API routes over env. chat may be nil.
func buildHandler(env *appEnv, chat api.Chat) http.Handler {
	deps := api.Deps{
		Artifacts:   env.Artifacts,
		Datasets:    env.Datasets,
		Registry:    env.Registry,
		Runner:      env.Runner,
		Predictor:   env.Predictor,
		Settings:    env.Settings,
		Usage:       env.Usage,
		History:     env.History,
		Chat:        chat,
		CORSOrigins: cfg.Server.CORSOrigins,
	}
	return api.NewServer(deps).Router()
}

// startPurgeSchedule runs the orphan purge on spec. An empty spec disables
// it and returns nil.
func startPurgeSchedule(store *artifact.Store, spec string) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}
	c := cron.New()
	err := c.AddFunc(spec, func() {
		res := store.PurgeOrphans()
		for _, e := range res.Errors {
			zap.L().Warn("scheduled purge", zap.String("error", e))
		}
	})
	if err != nil {
		return nil, eris.Wrapf(err, "parse purge schedule %q", spec)
	}
	c.Start()
	zap.L().Info("purge schedule enabled", zap.String("spec", spec))
	return c, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

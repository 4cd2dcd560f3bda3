package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wvfoia/wvfoia/internal/feed"
	"github.com/wvfoia/wvfoia/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API, feed, and export server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var verifier server.Verifier
		if cfg.Export.TurnstileSecret != "" {
			verifier = server.NewTurnstileVerifier(cfg.Export.TurnstileSecret, cfg.Export.TurnstileVerifyURL)
		} else {
			zap.L().Warn("turnstile secret not set, export endpoints disabled")
		}

		var signer server.ObjectSigner
		if cfg.Export.Bucket != "" {
			signer, err = server.NewS3Signer(ctx, cfg.Export.Bucket, cfg.Export.Region)
			if err != nil {
				return err
			}
		}

		srv := server.New(server.Options{
			Config:   cfg,
			Stats:    env.Stats,
			Feeds:    feed.NewBuilder(env.Stats, cfg.Server.SiteURL),
			Cache:    env.Cache,
			Store:    env.Store,
			Metrics:  env.Metrics.Handler(),
			Verifier: verifier,
			Signer:   signer,
		})

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("http server listening", zap.String("addr", httpSrv.Addr))
			errCh <- httpSrv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			zap.L().Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				return eris.Wrap(err, "shutdown")
			}
			return nil
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return eris.Wrap(err, "serve")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

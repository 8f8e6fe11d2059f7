package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mossy-p/screenshare/config"
	"github.com/mossy-p/screenshare/internal/api"
	"github.com/mossy-p/screenshare/internal/capture"
	"github.com/mossy-p/screenshare/internal/logging"
	"github.com/mossy-p/screenshare/internal/peernet"
	"github.com/mossy-p/screenshare/internal/session"
)

type flags struct {
	signalURL         string
	listen            string
	dialTimeout       time.Duration
	reconnectAttempts int
	logLevel          string
	connect           string
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "screenshare",
		Short: "Peer-to-peer screen share client",
		Long: `screenshare registers with a signaling server, keeps a control channel
to one friend and shares or receives a screen stream over it. A local API
drives it and streams its state to the UI.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			applyFlags(cmd, &f, cfg)
			return run(cmd.Context(), cfg, f.connect)
		},
	}

	cmd.Flags().StringVar(&f.signalURL, "signal-url", "", "signaling server base URL (default $SIGNAL_URL)")
	cmd.Flags().StringVar(&f.listen, "listen", "", "local API address (default $LISTEN_ADDR)")
	cmd.Flags().DurationVar(&f.dialTimeout, "dial-timeout", 0, "how long a dial may stay pending")
	cmd.Flags().IntVar(&f.reconnectAttempts, "reconnect-attempts", 0, "signaling reconnect attempts before giving up")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level (default $LOG_LEVEL)")
	cmd.Flags().StringVar(&f.connect, "connect", "", "peer id to dial once registered")

	return cmd
}

// applyFlags overrides configuration with the flags the user actually set.
func applyFlags(cmd *cobra.Command, f *flags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("signal-url") {
		cfg.Client.SignalURL = f.signalURL
	}
	if changed("listen") {
		cfg.Client.ListenAddr = f.listen
	}
	if changed("dial-timeout") {
		cfg.Client.DialTimeout = f.dialTimeout
	}
	if changed("reconnect-attempts") {
		cfg.Client.ReconnectAttempts = f.reconnectAttempts
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
}

func run(parent context.Context, cfg *config.Config, connectTo string) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := logging.Setup(logrus.StandardLogger(), cfg.LogLevel, cfg.Environment); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	network, err := peernet.New(ctx, peernet.Options{
		SignalURL:         cfg.Client.SignalURL,
		ReconnectAttempts: cfg.Client.ReconnectAttempts,
	})
	if err != nil {
		return err
	}

	feed := api.NewFeed()
	orch, err := session.New(network, capture.NewProvider(capture.AutoPicker()), feed, session.Options{
		DialTimeout: cfg.Client.DialTimeout,
		Constraints: session.DefaultConstraints(),
		Logger:      logrus.WithField("component", "session"),
	})
	if err != nil {
		return err
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    cfg.Client.ListenAddr,
		Handler: api.NewRouter(orch, feed, cfg.AllowedOrigins),
	}
	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"addr":     cfg.Client.ListenAddr,
		}).Info("Local API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "run",
				"error":    err.Error(),
			}).Error("Local API stopped")
			stop()
		}
	}()

	if connectTo != "" {
		go connectWhenReady(ctx, feed, orch, connectTo)
	}

	runErr := orch.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// connectWhenReady dials peerID as soon as the identity is registered.
func connectWhenReady(ctx context.Context, feed *api.Feed, ctrl api.Controller, peerID string) {
	events, cancel := feed.Subscribe()
	defer cancel()
	for {
		select {
		case env := <-events:
			if env.State != nil && env.State.Ready {
				ctrl.Connect(peerID)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

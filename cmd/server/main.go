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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/PoseSync/internal/adapters/http"
	"github.com/dkeye/PoseSync/internal/adapters/rtc"
	wssignal "github.com/dkeye/PoseSync/internal/adapters/signal"
	"github.com/dkeye/PoseSync/internal/app"
	"github.com/dkeye/PoseSync/internal/app/orch"
	"github.com/dkeye/PoseSync/internal/config"
	"github.com/dkeye/PoseSync/internal/domain"
	"github.com/dkeye/PoseSync/internal/metrics"
)

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var env string
	rootCmd := &cobra.Command{
		Use:           "posesync",
		Short:         "Session relay for shared pose and music playback events",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(env, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&env, "env", "", "config environment, selects config/config.<env>.yaml (default $CONFIG_ENV or dev)")
	flags.Int("port", 8080, "listen port")
	flags.String("mode", "release", "gin mode: release or debug")
	flags.String("static-path", "./public", "directory with the web client")
	flags.String("log-level", "info", "zerolog level")
	flags.Duration("reap-interval", time.Minute, "idle sweep period")
	flags.Duration("idle-threshold", 5*time.Minute, "inactivity after which a member is disconnected")
	flags.Bool("webrtc", false, "accept WebRTC data channel pose uplinks")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("server failed")
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	policy, err := app.PolicyByName(cfg.SlowPeerPolicy)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sessions := app.NewSessionStore()
	registry := app.NewRegistry()
	m := metrics.New(reg, metrics.Gauges{
		Sessions:    func() float64 { n, _ := sessions.Stats(); return float64(n) },
		Members:     func() float64 { _, n := sessions.Stats(); return float64(n) },
		Connections: func() float64 { return float64(registry.Len()) },
	})

	o := &orch.Orchestrator{
		Registry: registry,
		Sessions: sessions,
		Policy:   policy,
		Metrics:  m,
	}

	opts := wssignal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	}
	if cfg.WebRTCEnabled {
		rtcCfg := rtc.DefaultWebRTCConfig(cfg.ICEServers)
		opts.WebRTC = &rtcCfg
	}
	ctrl := wssignal.NewSignalWSController(o, domain.NewDecoder(cfg.MaxIDLen), m, opts)

	reaper := app.NewReaper(sessions, cfg.ReapInterval, cfg.IdleThreshold, app.WithReaperMetrics(m))
	go reaper.Run(ctx)

	r := router.SetupRouter(ctx, cfg, ctrl, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("PoseSync server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

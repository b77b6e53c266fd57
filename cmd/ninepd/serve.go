package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jrsharp/9p4z-sub000/pkg/ramfs"
	"github.com/jrsharp/9p4z-sub000/pkg/server"
	"github.com/jrsharp/9p4z-sub000/pkg/transport"
)

var (
	listenAddr  string
	metricsAddr string
)

func init() {
	flags := serveCmd.Flags()
	flags.StringVarP(&listenAddr, "listen", "l", "", "TCP listen address (overrides config)")
	flags.StringVar(&metricsAddr, "metrics", "", "Prometheus metrics address (overrides config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve an in-memory filesystem over 9P",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		if metricsAddr != "" {
			cfg.MetricsAddr = metricsAddr
		}

		log, err := makeLogger(cfg.Debug)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, log)
	},
}

func makeLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return logConfig.Build()
}

func serve(ctx context.Context, cfg *Config, log *zap.Logger) error {
	opts := []server.Option{
		server.WithMsize(cfg.Msize),
		server.WithFidCapacity(cfg.FidCapacity),
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, server.WithMetrics(server.NewMetrics(reg)))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
	}

	ln, err := transport.ListenTCP(cfg.ListenAddr,
		transport.WithLogger(log.Named("transport")),
		transport.WithMaxMessageSize(cfg.Msize))
	if err != nil {
		return err
	}
	log.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.Uint32("msize", cfg.Msize))

	srv := server.NewServer(ramfs.New(), log.Named("server"), opts...)
	err = srv.Serve(ctx, ln)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := metricsSrv.Shutdown(shutdownCtx); serr != nil {
			log.Warn("metrics shutdown failed", zap.Error(serr))
		}
	}
	log.Info("shut down")
	return err
}

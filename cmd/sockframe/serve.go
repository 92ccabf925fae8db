package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/andrei-cloud/sockframe"
	"github.com/andrei-cloud/sockframe/internal/admin"
	"github.com/andrei-cloud/sockframe/internal/config"
	"github.com/andrei-cloud/sockframe/internal/observability"
	"github.com/andrei-cloud/sockframe/server"
)

const metricsNamespace = "sockframe"

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	path := fs.String("config", "", "path to a TOML config file")
	addr := fs.String("addr", "", "listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	logger, closeLogs, err := observability.SetupLogger("sockframe", cfg.Log)
	if err != nil {
		return err
	}
	defer closeLogs()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := server.NewMetrics(reg, metricsNamespace)

	srv, err := server.NewServer(cfg.Addr, echo(logger), cfg.ServerConfig(sockframe.NewZerologLogger(logger), metrics))
	if err != nil {
		return err
	}
	if err := srv.StartAndWait(5 * time.Second); err != nil {
		return err
	}
	logger.Info().Str("addr", srv.Addr().String()).Msg("listening")

	var adminSrv *http.Server
	if cfg.AdminAddr != "" {
		router := admin.NewRouter(srv, reg, admin.NewMetrics(reg, metricsNamespace), logger)
		adminSrv = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.AdminAddr).Msg("admin listening")
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("admin server failed")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("admin shutdown")
		}
	}

	return srv.Shutdown(shutdownCtx)
}

// echo replies to each message with its own body until the peer closes.
func echo(logger zerolog.Logger) server.Handler {
	return server.HandlerFunc(func(c *sockframe.Conn) error {
		defer c.Close()

		for {
			msg, err := c.Receive()
			if err != nil {
				if errors.Is(err, sockframe.ErrIncompleteMessage) {
					logger.Debug().Uint64("conn", c.ID()).Msg("peer closed")
					return nil
				}
				return err
			}
			if err := c.ReplyHeader(echoHeader(msg), msg.Body); err != nil {
				return err
			}
		}
	})
}

// echoHeader carries request header keys other than the length back to the peer.
func echoHeader(msg *sockframe.Message) sockframe.Header {
	if len(msg.Header) <= 1 {
		return nil
	}
	h := make(sockframe.Header, len(msg.Header))
	for k, v := range msg.Header {
		if k != sockframe.HeaderLength {
			h[k] = v
		}
	}
	return h
}

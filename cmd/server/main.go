package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	router "github.com/DO-2K23-26/beep-rtc/internal/adapters/http"
	wssignal "github.com/DO-2K23-26/beep-rtc/internal/adapters/signal"
	"github.com/DO-2K23-26/beep-rtc/internal/app"
	"github.com/DO-2K23-26/beep-rtc/internal/app/sfu"
	"github.com/DO-2K23-26/beep-rtc/internal/config"
	"github.com/DO-2K23-26/beep-rtc/internal/discovery"
	"github.com/DO-2K23-26/beep-rtc/internal/logging"
	"github.com/DO-2K23-26/beep-rtc/internal/signaling"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Error().Err(err).Msg("sfu failed")
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	if err := logging.Init(cfg.Env, cfg.Level); err != nil {
		return err
	}
	if cfg.WatchLevel(func(level string) {
		if err := logging.SetLevel(level); err != nil {
			log.Warn().Str("module", "main").Err(err).Msg("ignoring log level")
		}
	}) {
		log.Info().Str("module", "main").Str("file", cfg.ConfigFile()).Msg("watching config file")
	}

	server, err := sfu.NewServerConfig(sfu.ServerOptions{
		HandshakeTimeout: cfg.HandshakeTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		LoggerFactory:    logging.NewLoggerFactory(log.Logger),
	})
	if err != nil {
		return err
	}

	host, err := netip.ParseAddr(cfg.Host)
	if err != nil {
		return err
	}
	supervisor, err := app.NewSupervisor(app.SupervisorConfig{
		Host:        host,
		Advertised:  cfg.Advertised,
		Ports:       cfg.MediaPorts(),
		Server:      server,
		MailboxSize: cfg.MailboxSize,
	})
	if err != nil {
		return err
	}

	bridge := signaling.NewBridge(supervisor.Routes(), signaling.BridgeConfig{Timeout: cfg.SignalingTimeout})
	ws := wssignal.NewSignalWSController(bridge, wssignal.Config{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		RateLimit:  cfg.RateLimit,
		RateBurst:  cfg.RateBurst,
	})
	r := router.SetupRouter(ctx, router.RouterConfigFrom(cfg), bridge, ws)
	ln, err := net.Listen("tcp", cfg.SignalAddr())
	if err != nil {
		supervisor.Close()
		return err
	}
	srv := &http.Server{
		Addr:              cfg.SignalAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var advertiser *discovery.Advertiser
	if cfg.MDNS {
		advertiser, err = discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Port:       cfg.SignalPort,
			MediaPorts: supervisor.Routes().Ports(),
		})
		if err == nil {
			err = advertiser.Start()
		}
		if err != nil {
			log.Warn().Str("module", "main").Err(err).Msg("mDNS advertisement disabled")
			advertiser = nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return supervisor.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("module", "main").Str("addr", srv.Addr).Str("security", cfg.TransportSecurity).Msg("signaling server started")
		var err error
		if cfg.TransportSecurity == config.SecurityTLSFiles {
			err = srv.ServeTLS(ln, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("module", "main").Msg("shutting down")
		if advertiser != nil {
			advertiser.Close()
		}
		ws.Registry().CancelAll()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Str("module", "main").Err(err).Msg("server forced to shutdown")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Str("module", "main").Msg("sfu exited")
	return err
}

package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ifsyncd/internal/config"
	"ifsyncd/internal/netbox"
	"ifsyncd/internal/pipeline"
	"ifsyncd/internal/restconf"
	"ifsyncd/internal/state"
	"ifsyncd/internal/webhook"
	"ifsyncd/pkg/bus"
	"ifsyncd/pkg/telemetry"
)

const serviceName = "ifsyncd"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	shutdownTraces, trace, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("init telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTraces(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	var deadLetters *bus.Bus
	if cfg.NATSURL != "" {
		deadLetters, err = bus.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("connect nats")
		}
		defer deadLetters.Close()
	}

	creds, err := config.NewCredentialStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load device credentials")
	}

	inventory := netbox.NewClient(cfg.NetBoxURL, cfg.NetBoxToken, newNetBoxHTTPClient(cfg))

	session := restconf.NewSession(creds, restconf.SessionConfig{
		VerifyTLS:      cfg.VerifyTLS,
		RequestTimeout: cfg.RequestTimeout,
	})
	applier := restconf.NewApplier(session, restconf.ApplierConfig{
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	}, log.Logger)

	service := pipeline.New(inventory, applier, state.NewRegistry(), log.Logger)

	api, err := webhook.New(service, deadLetters, trace, webhook.Config{
		MaxInflight:       cfg.MaxInflight,
		EventDeadline:     cfg.OverallDeadline(),
		DeadLetterSubject: cfg.DeadLetterSubject,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("init webhook api")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting ifsyncd")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}

func newNetBoxHTTPClient(cfg config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS}
	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
		Timeout:   cfg.RequestTimeout,
	}
}

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

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"frontdesk/internal/admin"
	"frontdesk/internal/agent"
	"frontdesk/internal/bus"
	"frontdesk/internal/channel"
	"frontdesk/internal/config"
	"frontdesk/internal/dialog"
	"frontdesk/internal/dispatch"
	"frontdesk/internal/domain"
	"frontdesk/internal/notify"
	"frontdesk/internal/provider"
	"frontdesk/internal/store"
	"frontdesk/internal/verify"
)

const (
	shutdownTimeout = 15 * time.Second
	drainTimeout    = 10 * time.Second
)

func serveCmd() *cobra.Command {
	var embeddedRedis bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, pipeline and background workers",
		Long:  "Starts the HTTP ingress, the conversation pipeline, the voice worker, the sweeper and the admin feed. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if embeddedRedis && cfg.General.Production() {
				return errors.New("--embedded-redis is for local development only")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, embeddedRedis)
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(ctx)
		},
	}
	cmd.Flags().BoolVar(&embeddedRedis, "embedded-redis", false, "run an in-process Redis instead of redis.url (development only)")
	return cmd
}

// app holds every long-lived component of the serve process.
type app struct {
	cfg       *config.Config
	embedded  *miniredis.Miniredis
	bus       *bus.RedisBus
	store     store.Backend
	effects   *agent.SideEffects
	pipeline  *agent.Pipeline
	voice     *agent.VoiceWorker
	sweeper   *agent.Sweeper
	hub       *admin.Hub
	forwarder *bus.AMQPForwarder
	server    *http.Server
}

func newApp(ctx context.Context, cfg *config.Config, embeddedRedis bool) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	redisURL := cfg.Redis.URL
	if embeddedRedis {
		a.embedded, err = miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("embedded redis: %w", err)
		}
		redisURL = "redis://" + a.embedded.Addr()
		logger.Warn("using embedded redis; state is lost on exit", "addr", a.embedded.Addr())
	}

	a.bus, err = bus.NewRedisBus(redisURL, logger)
	if err != nil {
		return nil, err
	}
	if err := a.bus.Connect(ctx); err != nil {
		return nil, fmt.Errorf("message bus: %w", err)
	}
	rdb := a.bus.Client()

	a.store, err = store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	gate := verify.NewGate(verify.GateConfig{
		Tokens:             verify.NewRedisTokenStore(rdb, time.Duration(cfg.Verification.TokenTTLHours)*time.Hour),
		Directory:          a.store,
		Store:              a.store,
		Mailer:             newMailer(cfg.Verification.SMTP),
		DefaultCountryCode: cfg.Verification.DefaultCountryCode,
		Logger:             logger,
	})
	dialogStore := dialog.NewStore(rdb, time.Duration(cfg.Dialog.TTLMinutes)*time.Minute, logger)
	handoff := dialog.NewHandoff(rdb, time.Duration(cfg.Dialog.HandoffTTLHours)*time.Hour)

	prov := provider.New(cfg.Provider, logger)
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("reasoning engine unhealthy at startup", "provider", prov.Name(), "err", err)
	}

	profiles, err := agent.LoadProfiles(cfg.Orchestrator.WorkerProfilesPath, logger)
	if err != nil {
		return nil, fmt.Errorf("worker profiles: %w", err)
	}
	registry, health := buildRegistry(cfg.Orchestrator, profiles, prov, a.bus)

	orch := agent.NewOrchestrator(agent.OrchestratorConfig{
		Mode:          cfg.Orchestrator.Mode,
		Provider:      prov,
		Registry:      registry,
		Settings:      a.store,
		Health:        health,
		Profiles:      profiles,
		MaxIterations: cfg.Orchestrator.MaxIterations,
		EngineTimeout: cfg.Orchestrator.EngineTimeout(),
		WorkerTimeout: cfg.Orchestrator.WorkerTimeout(),
		Logger:        logger,
	})

	dispatcher, err := buildDispatcher(cfg, a.store, a.bus)
	if err != nil {
		return nil, err
	}

	a.effects = agent.NewSideEffects(0, logger)
	a.pipeline = agent.NewPipeline(agent.PipelineConfig{
		Bus:          a.bus,
		Store:        a.store,
		Gate:         gate,
		Dialog:       dialogStore,
		Handoff:      handoff,
		Orchestrator: orch,
		Sender:       dispatcher,
		Notifier:     newNotifier(cfg.Notify),
		Effects:      a.effects,
		Health:       health,
		Concurrency:  cfg.General.MaxConcurrentTurns,
		Logger:       logger,
	})

	a.voice = agent.NewVoiceWorker(agent.VoiceWorkerConfig{
		Bus: a.bus,
		Transcriber: provider.NewWhisper(provider.WhisperConfig{
			APIBase:  cfg.Voice.WhisperAPIBase,
			APIKey:   cfg.Voice.APIKey,
			Model:    cfg.Voice.Model,
			Language: cfg.Voice.Language,
			Logger:   logger,
		}),
		// Twilio recordings are fetched with the account credentials
		Fetcher: agent.HTTPFetcher{
			Username: cfg.Channels.SMS.AccountSID,
			Password: cfg.Channels.SMS.AuthToken,
		},
		PopTimeout: time.Duration(cfg.Voice.PopTimeoutSecs) * time.Second,
		Logger:     logger,
	})

	if cfg.Sweep.Enabled {
		a.sweeper = agent.NewSweeper(a.store, time.Duration(cfg.Sweep.IntervalMinutes)*time.Minute, cfg.Sweep.InactiveDays, logger).
			WithMemberResync(a.store, a.store)
	}

	a.hub = admin.NewHub(admin.Config{Token: cfg.Admin.Token, Bus: a.bus, Logger: logger})

	if cfg.Events.AMQPURL != "" {
		a.forwarder, err = bus.NewAMQPForwarder(cfg.Events.AMQPURL, cfg.Events.Exchange, a.bus, logger)
		if err != nil {
			return nil, err
		}
	}

	ingress := channel.NewServer(channel.ServerConfig{
		Env:              cfg.General.Env,
		PublicURL:        cfg.Server.PublicURL,
		MetricsPath:      cfg.Server.MetricsPath,
		SenderRatePerMin: cfg.Server.SenderRatePerMin,
		Channels:         cfg.Channels,
		Tenants:          a.store,
		Bus:              a.bus,
		Admin:            a.hub,
		Logger:           logger,
	})
	a.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           ingress.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return a, nil
}

// buildRegistry registers one worker per name. Crowd reads live occupancy
// from Redis; health wraps its language-model advice worker with the
// emergency reply.
func buildRegistry(cfg config.OrchestratorConfig, profiles map[agent.WorkerName]agent.WorkerProfile, prov domain.Provider, rb *bus.RedisBus) (*agent.Registry, *agent.HealthWorker) {
	registry := agent.NewRegistry()
	health := agent.NewHealthWorker(cfg.EmergencyNumber, agent.NewLLMWorker(profiles[agent.WorkerHealth], prov, cfg.WorkerTimeout()))
	for _, name := range agent.WorkerNames {
		switch name {
		case agent.WorkerHealth:
			registry.Register(name, health)
		case agent.WorkerCrowd:
			registry.Register(name, agent.NewCrowdWorker(rb.Client()))
		default:
			registry.Register(name, agent.NewLLMWorker(profiles[name], prov, cfg.WorkerTimeout()))
		}
	}
	return registry, health
}

func buildDispatcher(cfg *config.Config, backend store.Backend, rb *bus.RedisBus) (*dispatch.Dispatcher, error) {
	ch := cfg.Channels
	d := dispatch.New(logger)
	if ch.WhatsApp.Enabled {
		d.Register(dispatch.NewWhatsApp(dispatch.WhatsAppConfig{
			APIBase:       ch.WhatsApp.APIBase,
			AccessToken:   ch.WhatsApp.AccessToken,
			PhoneNumberID: ch.WhatsApp.PhoneNumberID,
			Settings:      backend,
		}))
	}
	if ch.Telegram.Enabled {
		tg, err := dispatch.NewTelegram(ch.Telegram.Token, logger)
		if err != nil {
			return nil, fmt.Errorf("telegram transport: %w", err)
		}
		d.Register(tg)
	}
	if ch.SMS.Enabled {
		d.Register(dispatch.NewSMS(dispatch.SMSConfig{
			APIBase:    ch.SMS.APIBase,
			AccountSID: ch.SMS.AccountSID,
			AuthToken:  ch.SMS.AuthToken,
			FromNumber: ch.SMS.FromNumber,
		}))
	}
	if ch.Email.Enabled {
		smtp := cfg.Verification.SMTP
		d.Register(dispatch.NewEmail(dispatch.EmailConfig{
			Host:     smtp.Host,
			Port:     smtp.Port,
			Username: smtp.Username,
			Password: smtp.Password,
			From:     smtp.From,
		}))
	}
	if ch.Voice.Enabled {
		d.Register(dispatch.NewVoice(rb))
	}
	logger.Info("outbound transports ready", "platforms", d.Platforms())
	return d, nil
}

func newMailer(cfg config.SMTPConfig) domain.Mailer {
	if cfg.Host == "" {
		logger.Warn("no smtp host configured, verification codes are only logged")
		return verify.LogMailer{Logger: logger}
	}
	return verify.NewSMTPMailer(cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.From, logger)
}

func newNotifier(cfg config.NotifyConfig) domain.Notifier {
	if cfg.SlackWebhookURL == "" {
		return notify.Log{Logger: logger}
	}
	return notify.NewSlack(notify.SlackConfig{
		WebhookURL:  cfg.SlackWebhookURL,
		MinInterval: time.Duration(cfg.MinIntervalSecs) * time.Second,
		Logger:      logger,
	})
}

// run starts every component and blocks until ctx is cancelled or one of
// them fails, then shuts the HTTP server down and drains side effects.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.pipeline.Run(gctx) })
	g.Go(func() error { return a.voice.Run(gctx) })
	g.Go(func() error { return a.hub.Run(gctx) })
	if a.sweeper != nil {
		g.Go(func() error { return a.sweeper.Run(gctx) })
	}
	if a.forwarder != nil {
		g.Go(func() error { return a.forwarder.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("http server listening", "addr", a.server.Addr, "version", version)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if !a.effects.Drain(drainTimeout) {
		logger.Warn("side effects still running at exit", "pending", a.effects.Pending())
	}
	if err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func (a *app) close() {
	if a.forwarder != nil {
		a.forwarder.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.embedded != nil {
		a.embedded.Close()
	}
}

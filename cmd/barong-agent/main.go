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

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/layer-3/barong-agent/adapters/authclient"
	"github.com/layer-3/barong-agent/adapters/events"
	"github.com/layer-3/barong-agent/adapters/metrics"
	"github.com/layer-3/barong-agent/adapters/probe"
	"github.com/layer-3/barong-agent/adapters/store"
	"github.com/layer-3/barong-agent/config"
	"github.com/layer-3/barong-agent/eventbus"
	"github.com/layer-3/barong-agent/ports"
	"github.com/layer-3/barong-agent/service"
	transport "github.com/layer-3/barong-agent/transport/http"
)

func main() {
	configPath := flag.String("config", os.Getenv("BARONG_AGENT_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Agent stopped")
	}
	logger.Info("Agent stopped")
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	clock := clockwork.NewRealClock()
	keys := store.NewKeys(cfg.Auth.KeyPrefix, cfg.Auth.BaseURL)

	redisClients := map[string]*redis.Client{}
	redisFor := func(url string) (*redis.Client, error) {
		if client, ok := redisClients[url]; ok {
			return client, nil
		}
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(opts)
		redisClients[url] = client
		return client, nil
	}
	defer func() {
		for _, client := range redisClients {
			client.Close()
		}
	}()

	var (
		tokenStore ports.TokenStore
		fileStore  *store.FileStore
	)
	switch cfg.Store.Kind {
	case config.StoreRedis:
		client, err := redisFor(cfg.Store.RedisURL)
		if err != nil {
			return err
		}
		tokenStore = store.NewRedisStore(client, keys, clock)
	case config.StoreFile:
		fileStore = store.NewFileStore(cfg.Store.Path, keys, clock)
		tokenStore = fileStore
	default:
		tokenStore = store.NewMemoryStore(keys, clock)
	}

	authClient, err := authclient.NewOAuth2Client(authclient.Config{
		TokenURL:     cfg.Auth.TokenURL,
		RevokeURL:    cfg.Auth.RevokeURL,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Scopes:       cfg.Auth.Scopes,
		AuthInParams: cfg.Auth.AuthInParams,
	})
	if err != nil {
		return err
	}

	var prober *probe.Prober
	session := service.NewSession(tokenStore, authClient,
		service.WithClock(clock),
		service.WithLogger(logger.WithField("component", "session")),
		service.WithConfig(cfg.Scheduler.Config()),
		service.WithHistory(eventbus.NewHistory(
			eventbus.WithHistorySize(cfg.History.Size),
			eventbus.WithHistoryClock(clock),
		)),
		service.WithForegroundHook(func() {
			if prober != nil {
				prober.Trigger()
			}
		}),
	)
	defer session.Close()

	if cfg.Probe.URL != "" {
		prober, err = probe.New(cfg.Probe.URL, cfg.Probe.Schedule, session.SetBackendReachable,
			logger.WithField("component", "probe"), probe.WithTimeout(cfg.Probe.Timeout))
		if err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return err
	}
	session.Subscribe(collector.Observe)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Events.Publisher == config.PublisherRedisStream {
		client, err := redisFor(cfg.EventsRedisURL())
		if err != nil {
			return err
		}
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: client,
			},
			events.NewLogrusAdapter(logger.WithField("component", "watermill")),
		)
		if err != nil {
			return err
		}
		defer publisher.Close()

		forwarder := events.NewForwarder(
			events.NewWatermillPublisher(publisher, cfg.Events.Topic),
			cfg.Events.Buffer,
			logger.WithField("component", "events"),
		)
		session.Subscribe(forwarder.Handle)
		g.Go(func() error { return forwarder.Run(ctx) })
	}

	if err := session.Start(ctx); err != nil {
		return err
	}
	logger.WithField("state", session.State()).Info("Session started")

	if prober != nil {
		g.Go(func() error { return prober.Run(ctx) })
	}

	if fileStore != nil && cfg.Store.Watch {
		g.Go(func() error {
			return fileStore.Watch(ctx, logger.WithField("component", "store"), func() {
				if err := session.ForceCheckStorage(ctx); err != nil {
					logger.WithError(err).Warn("Failed to reload token file")
				}
			})
		})
	}

	g.Go(func() error {
		lifecycle := make(chan os.Signal, 1)
		signal.Notify(lifecycle, syscall.SIGUSR1, syscall.SIGUSR2)
		defer signal.Stop(lifecycle)
		for {
			select {
			case <-ctx.Done():
				return nil
			case sig := <-lifecycle:
				session.SetAppActive(sig == syscall.SIGUSR2)
			}
		}
	})

	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: transport.SetupRouter(session, transport.RouterOptions{
			ControlToken: cfg.HTTP.ControlToken,
			Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			Logger:       logger.WithField("component", "http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTP.Addr).Info("Control API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/annel0/arena-sync/internal/ability"
	"github.com/annel0/arena-sync/internal/api"
	"github.com/annel0/arena-sync/internal/config"
	"github.com/annel0/arena-sync/internal/eventbus"
	"github.com/annel0/arena-sync/internal/game"
	"github.com/annel0/arena-sync/internal/logging"
	"github.com/annel0/arena-sync/internal/network"
	"github.com/annel0/arena-sync/internal/observability"
	"github.com/annel0/arena-sync/internal/storage"
)

// closer ресурс, закрываемый при остановке в обратном порядке
type closer struct {
	name string
	fn   func() error
}

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $GAME_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	if err := setupLogging(cfg.Logging); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer shutdownLogging()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		shutdownLogging()
		os.Exit(1)
	}
}

func setupLogging(cfg config.LoggingConfig) error {
	console, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	file, err := logging.ParseLevel(cfg.FileLevel)
	if err != nil {
		return err
	}
	logging.Configure(logging.Options{
		Dir:          cfg.Dir,
		ConsoleLevel: console,
		FileLevel:    file,
		MaxSizeMB:    cfg.MaxSizeMB,
		MaxBackups:   cfg.MaxBackups,
		MaxAgeDays:   cfg.MaxAgeDays,
	})
	if err := logging.SetComponentLevels(cfg.Components); err != nil {
		return err
	}
	return logging.InitDefaultLogger("server")
}

func shutdownLogging() {
	if err := logging.CloseComponentLoggers(); err != nil {
		log.Printf("закрытие логов: %v", err)
	}
	logging.CloseDefaultLogger()
}

func run(cfg *config.Config) error {
	ctx := context.Background()
	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].fn(); err != nil {
				logging.Warn("⚠️ Остановка %s: %v", closers[i].name, err)
			}
		}
	}()

	logging.Info("🎮 Запуск arena-sync: %s, %d Гц", cfg.Server.Transport, cfg.Server.TickHz)

	shutdownTracing, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("телеметрия: %w", err)
	}
	closers = append(closers, closer{"telemetry", func() error { return shutdownTracing(context.Background()) }})

	// === КАТАЛОГ И ПРАВИЛА ===
	catalog := ability.DefaultCatalog()
	if cfg.Catalog.Path != "" {
		if catalog, err = ability.LoadCatalog(cfg.Catalog.Path); err != nil {
			return fmt.Errorf("каталог способностей: %w", err)
		}
	}
	logging.Info("📚 Каталог: игровые архетипы %v", catalog.PlayableArchetypes())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := network.NewMetrics(registry)

	manager := game.NewEventManager(game.Options{
		Role:     game.RoleAuthority,
		Catalog:  catalog,
		Rules:    rulesFrom(cfg.World),
		Observer: metrics,
		Scenery:  sceneryFrom(cfg.World),
		Wander:   cfg.World.NPCWander,
		Seed:     cfg.World.Seed,
	})

	// === ХРАНИЛИЩА ===
	positions, closePositions, err := openPositions(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("хранилище позиций (%s): %w", cfg.Storage.Backend, err)
	}
	closers = append(closers, closer{"positions", closePositions})

	var sinks []network.BatchSink
	var journal *storage.Journal
	if cfg.Journal.Enabled {
		journal, err = storage.OpenJournal(storage.JournalOptions{Dir: cfg.Journal.Dir, InMemory: cfg.Journal.InMem})
		if err != nil {
			return fmt.Errorf("журнал пакетов: %w", err)
		}
		closers = append(closers, closer{"journal", journal.Close})
		sinks = append(sinks, journal)
	}

	bus, err := openBus(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("шина событий (%s): %w", cfg.EventBus.Backend, err)
	}
	closers = append(closers, closer{"eventbus", bus.Close})
	sinks = append(sinks, eventbus.NewBatchPublisher(bus, cfg.Telemetry.ServiceName))

	exporter := eventbus.NewMetricsExporter(bus, registry)
	exporter.Start(time.Second)
	closers = append(closers, closer{"eventbus metrics", func() error { exporter.Stop(); return nil }})

	if sub, err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("⚠️ LoggingListener не запущен: %v", err)
	} else {
		closers = append(closers, closer{"eventbus listener", func() error { sub.Unsubscribe(); return nil }})
	}

	// === СЕТЬ ===
	server, err := network.NewServer(network.Options{
		Config:    cfg.Server,
		Manager:   manager,
		Positions: positions,
		Metrics:   metrics,
		Sinks:     sinks,
	})
	if err != nil {
		return fmt.Errorf("сетевой сервер: %w", err)
	}
	server.Start()
	closers = append(closers, closer{"server", func() error { server.Stop(); return nil }})

	// === REST API ===
	if cfg.API.Enabled {
		apiCfg := api.Config{
			Addr:       fmt.Sprintf(":%d", cfg.API.Port),
			AdminToken: cfg.API.AdminToken,
			Manager:    manager,
			Server:     server,
			Registry:   registry,
		}
		if journal != nil {
			apiCfg.Journal = journal
		}
		rest := api.NewRestServer(apiCfg)
		go func() {
			if err := rest.Start(); err != nil {
				logging.Error("❌ REST API: %v", err)
			}
		}()
		closers = append(closers, closer{"api", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return rest.Stop(ctx)
		}})
	}

	logging.Info("✅ Все сервисы запущены: %s, UDP :%d", server.Addr(), server.UDPPort())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)
	return nil
}

func rulesFrom(w config.WorldConfig) *ability.Rules {
	return &ability.Rules{
		Bound:        w.Bound,
		RespawnInset: w.RespawnInset,
		SpawnPoints:  w.SpawnPoints,
	}
}

func sceneryFrom(w config.WorldConfig) []game.Scenery {
	out := make([]game.Scenery, 0, len(w.Scenery))
	for i, s := range w.Scenery {
		out = append(out, game.Scenery{
			Origin:    s.Origin,
			Axis:      s.Axis,
			Amplitude: s.Amplitude,
			Period:    s.Period,
			Jitter:    s.Jitter,
		}.WithNoise(w.Seed + int64(i)))
	}
	return out
}

// openPositions выбирает хранилище позиций игроков по конфигурации
func openPositions(ctx context.Context, cfg config.StorageConfig) (network.PositionStore, func() error, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	nop := func() error { return nil }
	switch cfg.Backend {
	case "redis":
		rcfg := storage.DefaultRedisConfig()
		rcfg.Addr = cfg.RedisAddr
		rcfg.Password = cfg.RedisPassword
		rcfg.DB = cfg.RedisDB
		rcfg.FlushEvery = cfg.RedisFlushEvery
		repo, err := storage.NewRedisPositionRepository(ctx, rcfg)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case "mariadb":
		repo, err := storage.NewMariaPositionRepo(ctx, cfg.MariaDSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case "mongo":
		repo, err := storage.NewMongoPositionRepo(ctx, storage.MongoConfig{
			URI:        cfg.MongoURI,
			Database:   cfg.MongoDatabase,
			Collection: cfg.MongoCollection,
		})
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return storage.NewMemoryPositionRepo(), nop, nil
	}
}

func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.Backend == "nats" {
		return eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	}
	return eventbus.NewMemoryBus(256), nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/vec"
	"github.com/annel0/arena-sync/internal/world/entity"
)

// Config корневая структура конфигурации приложения.
// Порядок приоритетов: переменные окружения -> YAML файл -> значения по умолчанию.
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"GAME_"`
	World     WorldConfig     `yaml:"world" envPrefix:"GAME_WORLD_"`
	Catalog   CatalogConfig   `yaml:"catalog" envPrefix:"GAME_CATALOG_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"GAME_STORAGE_"`
	Journal   JournalConfig   `yaml:"journal" envPrefix:"GAME_JOURNAL_"`
	EventBus  EventBusConfig  `yaml:"eventbus" envPrefix:"GAME_EVENTBUS_"`
	API       APIConfig       `yaml:"api" envPrefix:"GAME_API_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"GAME_OTEL_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"GAME_LOG_"`
}

type ServerConfig struct {
	Transport         string        `yaml:"transport" env:"TRANSPORT"` // tcp | kcp
	Host              string        `yaml:"host" env:"HOST"`
	TCPPort           int           `yaml:"tcp_port" env:"TCP_PORT"`
	UDPPort           int           `yaml:"udp_port" env:"UDP_PORT"`
	TickHz            int           `yaml:"tick_hz" env:"TICK_HZ"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout" env:"INACTIVITY_TIMEOUT"`
	UDPProbeRounds    int           `yaml:"udp_probe_rounds" env:"UDP_PROBE_ROUNDS"`
	UDPProbeWait      time.Duration `yaml:"udp_probe_wait" env:"UDP_PROBE_WAIT"`
	AutosaveEvery     time.Duration `yaml:"autosave_every" env:"AUTOSAVE_EVERY"`
	MaxSessions       int           `yaml:"max_sessions" env:"MAX_SESSIONS"`
}

// SceneryConfig постоянный объект сцены, качающийся вдоль оси
type SceneryConfig struct {
	Origin    vec.Vec3      `yaml:"origin"`
	Axis      vec.Vec3      `yaml:"axis"`
	Amplitude float32       `yaml:"amplitude"`
	Period    time.Duration `yaml:"period"`
	Jitter    float32       `yaml:"jitter"`
}

type WorldConfig struct {
	Bound        float32             `yaml:"bound" env:"BOUND"`
	RespawnInset float32             `yaml:"respawn_inset" env:"RESPAWN_INSET"`
	SpawnPoints  []vec.Vec3          `yaml:"spawn_points"`
	Scenery      []SceneryConfig     `yaml:"scenery"`
	NPCWander    entity.WanderParams `yaml:"npc_wander"`
	Seed         int64               `yaml:"seed" env:"SEED"`
}

type CatalogConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type StorageConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"` // memory | redis | mariadb | mongo

	RedisAddr       string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword   string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB         int           `yaml:"redis_db" env:"REDIS_DB"`
	RedisFlushEvery time.Duration `yaml:"redis_flush_every" env:"REDIS_FLUSH_EVERY"`

	MariaDSN string `yaml:"maria_dsn" env:"MARIA_DSN"`

	MongoURI        string `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase   string `yaml:"mongo_database" env:"MONGO_DATABASE"`
	MongoCollection string `yaml:"mongo_collection" env:"MONGO_COLLECTION"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Dir     string `yaml:"dir" env:"DIR"`
	InMem   bool   `yaml:"in_memory" env:"IN_MEMORY"`
}

type EventBusConfig struct {
	Backend   string `yaml:"backend" env:"BACKEND"` // memory | nats
	URL       string `yaml:"url" env:"URL"`
	Stream    string `yaml:"stream" env:"STREAM"`
	Retention int    `yaml:"retention_hours" env:"RETENTION_HOURS"`
}

type APIConfig struct {
	Enabled    bool   `yaml:"enabled" env:"ENABLED"`
	Port       int    `yaml:"port" env:"PORT"`
	AdminToken string `yaml:"admin_token" env:"ADMIN_TOKEN"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" env:"ENABLED"`
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`
	FileLevel  string `yaml:"file_level" env:"FILE_LEVEL"`
	Dir        string `yaml:"dir" env:"DIR"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`

	// Components уровни отдельных компонентов, например network: debug
	Components map[string]string `yaml:"components" env:"COMPONENTS"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:         "tcp",
			TCPPort:           7777,
			UDPPort:           7778,
			TickHz:            20,
			HandshakeTimeout:  3 * time.Second,
			InactivityTimeout: 10 * time.Second,
			UDPProbeRounds:    3,
			UDPProbeWait:      500 * time.Millisecond,
			AutosaveEvery:     30 * time.Second,
			MaxSessions:       256,
		},
		World: WorldConfig{
			Bound:        200,
			RespawnInset: 5,
			SpawnPoints: []vec.Vec3{
				{X: 0, Y: 0, Z: 0},
				{X: 50, Y: 0, Z: 50},
				{X: -50, Y: 0, Z: -50},
			},
			NPCWander: entity.DefaultWanderParams(),
			Seed:      1,
		},
		Storage: StorageConfig{
			Backend:         "memory",
			RedisAddr:       "localhost:6379",
			RedisFlushEvery: 2 * time.Second,
			MongoDatabase:   "arena",
			MongoCollection: "positions",
		},
		Journal: JournalConfig{
			Dir: "data/journal",
		},
		EventBus: EventBusConfig{
			Backend:   "memory",
			URL:       "nats://127.0.0.1:4222",
			Stream:    "ARENA_EVENTS",
			Retention: 24,
		},
		API: APIConfig{
			Enabled: true,
			Port:    8088,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "arena-sync",
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FileLevel:  "debug",
			Dir:        "logs",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// Load читает YAML файл конфигурации поверх значений по умолчанию и применяет переменные окружения.
// Если path == "", путь берётся из ENV GAME_CONFIG; без файла используются только значения по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("GAME_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность значений
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "tcp", "kcp":
	default:
		return fmt.Errorf("server.transport: ожидалось tcp или kcp, получено %q", c.Server.Transport)
	}
	if c.Server.TickHz <= 0 || c.Server.TickHz > 1000 {
		return fmt.Errorf("server.tick_hz: недопустимое значение %d", c.Server.TickHz)
	}
	if c.Server.HandshakeTimeout <= 0 || c.Server.InactivityTimeout <= c.Server.HandshakeTimeout {
		return fmt.Errorf("server: inactivity_timeout (%s) должен быть больше handshake_timeout (%s)",
			c.Server.InactivityTimeout, c.Server.HandshakeTimeout)
	}
	if c.Server.UDPProbeRounds <= 0 {
		return fmt.Errorf("server.udp_probe_rounds: должно быть больше нуля")
	}
	if c.World.Bound <= 0 || c.World.RespawnInset < 0 || c.World.RespawnInset >= c.World.Bound {
		return fmt.Errorf("world: некорректные bound=%.1f / respawn_inset=%.1f", c.World.Bound, c.World.RespawnInset)
	}
	if len(c.World.SpawnPoints) == 0 {
		return fmt.Errorf("world.spawn_points: нужна хотя бы одна точка появления")
	}
	if len(c.World.Scenery) > protocol.MaxScenePoses {
		return fmt.Errorf("world.scenery: не больше %d объектов, получено %d", protocol.MaxScenePoses, len(c.World.Scenery))
	}
	switch c.Storage.Backend {
	case "memory", "redis", "mariadb", "mongo":
	default:
		return fmt.Errorf("storage.backend: неизвестный backend %q", c.Storage.Backend)
	}
	switch c.EventBus.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("eventbus.backend: неизвестный backend %q", c.EventBus.Backend)
	}
	return nil
}

// TickInterval длительность одного тика
func (s *ServerConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(s.TickHz)
}

// TCPAddr адрес надёжного listener'а
func (s *ServerConfig) TCPAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.TCPPort)
}

// UDPAddr адрес ненадёжного listener'а
func (s *ServerConfig) UDPAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.UDPPort)
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/arena-sync/internal/logging"
	"github.com/annel0/arena-sync/internal/vec"
)

// RedisPositionRepository хранит позиции игроков в Redis.
// Save копит записи в буфере и сбрасывает их пайплайном по таймеру или при заполнении.
type RedisPositionRepository struct {
	client      *redis.Client
	keyPrefix   string
	ttl         time.Duration
	batchSize   int
	batchMu     sync.Mutex
	batchBuffer map[int32]*PlayerPosition
	batchTicker *time.Ticker
	shutdown    chan struct{}
	wg          sync.WaitGroup
	logger      *logging.Logger
}

// PlayerPosition запись позиции игрока в Redis
type PlayerPosition struct {
	UID       int32     `json:"uid"`
	Position  vec.Vec3  `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr       string        // Адрес Redis сервера
	Password   string        // Пароль (пустой если не требуется)
	DB         int           // Номер базы данных
	KeyPrefix  string        // Префикс для ключей
	TTL        time.Duration // Время жизни записей (0 без ограничения)
	BatchSize  int           // Размер батча для записи
	FlushEvery time.Duration // Интервал сброса батча
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:       "localhost:6379",
		KeyPrefix:  "arena:pos:",
		TTL:        7 * 24 * time.Hour,
		BatchSize:  100,
		FlushEvery: 2 * time.Second,
	}
}

// NewRedisPositionRepository создаёт новый Redis репозиторий для позиций
func NewRedisPositionRepository(ctx context.Context, config *RedisConfig) (*RedisPositionRepository, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if config.FlushEvery <= 0 {
		config.FlushEvery = time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	repo := &RedisPositionRepository{
		client:      client,
		keyPrefix:   config.KeyPrefix,
		ttl:         config.TTL,
		batchSize:   config.BatchSize,
		batchBuffer: make(map[int32]*PlayerPosition),
		batchTicker: time.NewTicker(config.FlushEvery),
		shutdown:    make(chan struct{}),
		logger:      logging.GetStorageLogger(),
	}

	repo.wg.Add(1)
	go repo.batchFlusher()

	repo.logger.Info("🔴 Connected to Redis at %s", config.Addr)
	return repo, nil
}

func (r *RedisPositionRepository) key(uid int32) string {
	return r.keyPrefix + strconv.Itoa(int(uid))
}

// Save ставит позицию в буфер записи
func (r *RedisPositionRepository) Save(ctx context.Context, uid int32, pos vec.Vec3) error {
	if err := validate(uid, pos); err != nil {
		return err
	}

	r.batchMu.Lock()
	r.batchBuffer[uid] = &PlayerPosition{UID: uid, Position: pos, UpdatedAt: time.Now()}
	if len(r.batchBuffer) < r.batchSize {
		r.batchMu.Unlock()
		return nil
	}
	batch := r.batchBuffer
	r.batchBuffer = make(map[int32]*PlayerPosition)
	r.batchMu.Unlock()

	return r.flushBatch(ctx, batch)
}

// Load читает позицию: сначала из ещё не сброшенного буфера, затем из Redis
func (r *RedisPositionRepository) Load(ctx context.Context, uid int32) (vec.Vec3, bool, error) {
	if err := validateUID(uid); err != nil {
		return vec.Vec3{}, false, err
	}

	r.batchMu.Lock()
	buffered, ok := r.batchBuffer[uid]
	r.batchMu.Unlock()
	if ok {
		return buffered.Position, true, nil
	}

	data, err := r.client.Get(ctx, r.key(uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return vec.Vec3{}, false, nil
	} else if err != nil {
		return vec.Vec3{}, false, fmt.Errorf("failed to get position: %w", err)
	}

	var pos PlayerPosition
	if err := json.Unmarshal(data, &pos); err != nil {
		return vec.Vec3{}, false, fmt.Errorf("failed to unmarshal position: %w", err)
	}
	return pos.Position, true, nil
}

// Delete удаляет позицию игрока
func (r *RedisPositionRepository) Delete(ctx context.Context, uid int32) error {
	if err := validateUID(uid); err != nil {
		return err
	}

	r.batchMu.Lock()
	delete(r.batchBuffer, uid)
	r.batchMu.Unlock()

	if err := r.client.Del(ctx, r.key(uid)).Err(); err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}
	return nil
}

// BatchSave записывает позиции сразу, минуя буфер
func (r *RedisPositionRepository) BatchSave(ctx context.Context, positions map[int32]vec.Vec3) error {
	if len(positions) == 0 {
		return nil
	}
	now := time.Now()
	batch := make(map[int32]*PlayerPosition, len(positions))
	for uid, pos := range positions {
		if err := validate(uid, pos); err != nil {
			return err
		}
		batch[uid] = &PlayerPosition{UID: uid, Position: pos, UpdatedAt: now}
	}

	// Более свежие значения из BatchSave заменяют буферизованные
	r.batchMu.Lock()
	for uid := range positions {
		delete(r.batchBuffer, uid)
	}
	r.batchMu.Unlock()

	return r.flushBatch(ctx, batch)
}

// Count возвращает количество сохранённых позиций
func (r *RedisPositionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to count positions: %w", err)
	}
	return count, nil
}

// Close сбрасывает буфер и закрывает соединение с Redis
func (r *RedisPositionRepository) Close() error {
	close(r.shutdown)
	r.wg.Wait()
	r.batchTicker.Stop()

	r.batchMu.Lock()
	batch := r.batchBuffer
	r.batchBuffer = make(map[int32]*PlayerPosition)
	r.batchMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.flushBatch(ctx, batch); err != nil {
		r.logger.Error("❌ Failed to flush batch on close: %v", err)
	}
	return r.client.Close()
}

// batchFlusher периодически сбрасывает батч-буфер
func (r *RedisPositionRepository) batchFlusher() {
	defer r.wg.Done()

	for {
		select {
		case <-r.shutdown:
			return
		case <-r.batchTicker.C:
			r.batchMu.Lock()
			if len(r.batchBuffer) == 0 {
				r.batchMu.Unlock()
				continue
			}
			batch := r.batchBuffer
			r.batchBuffer = make(map[int32]*PlayerPosition)
			r.batchMu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.flushBatch(ctx, batch); err != nil {
				r.logger.Error("❌ Failed to flush batch: %v", err)
			}
			cancel()
		}
	}
}

// flushBatch записывает батч позиций в Redis одним пайплайном
func (r *RedisPositionRepository) flushBatch(ctx context.Context, batch map[int32]*PlayerPosition) error {
	if len(batch) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for uid, pos := range batch {
		data, err := json.Marshal(pos)
		if err != nil {
			r.logger.Warn("⚠️ Failed to marshal position for %d: %v", uid, err)
			continue
		}
		pipe.Set(ctx, r.key(uid), data, r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

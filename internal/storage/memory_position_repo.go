package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/annel0/arena-sync/internal/vec"
)

// MemoryPositionRepo реализует PositionRepo в памяти.
// Используется по умолчанию и в тестах. Данные теряются при перезапуске сервера.
type MemoryPositionRepo struct {
	mu   sync.RWMutex
	data map[int32]vec.Vec3
}

// NewMemoryPositionRepo создает новый репозиторий позиций в памяти.
func NewMemoryPositionRepo() *MemoryPositionRepo {
	return &MemoryPositionRepo{
		data: make(map[int32]vec.Vec3),
	}
}

// Save сохраняет позицию игрока в памяти.
func (r *MemoryPositionRepo) Save(ctx context.Context, uid int32, pos vec.Vec3) error {
	if err := validate(uid, pos); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[uid] = pos
	return nil
}

// Load загружает позицию игрока из памяти.
func (r *MemoryPositionRepo) Load(ctx context.Context, uid int32) (vec.Vec3, bool, error) {
	if err := validateUID(uid); err != nil {
		return vec.Vec3{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return vec.Vec3{}, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, exists := r.data[uid]
	return pos, exists, nil
}

// Delete удаляет сохраненную позицию игрока из памяти.
func (r *MemoryPositionRepo) Delete(ctx context.Context, uid int32) error {
	if err := validateUID(uid); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[uid]; !exists {
		return fmt.Errorf("позиция игрока %d не найдена", uid)
	}
	delete(r.data, uid)
	return nil
}

// BatchSave сохраняет позиции нескольких игроков в памяти.
// Проверяются все записи до сохранения: при ошибке ничего не меняется.
func (r *MemoryPositionRepo) BatchSave(ctx context.Context, positions map[int32]vec.Vec3) error {
	if len(positions) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for uid, pos := range positions {
		if err := validate(uid, pos); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, pos := range positions {
		r.data[uid] = pos
	}
	return nil
}

// Count возвращает количество сохраненных позиций.
func (r *MemoryPositionRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

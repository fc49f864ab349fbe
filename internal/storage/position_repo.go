package storage

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/annel0/arena-sync/internal/vec"
)

// ErrInvalidPosition позиция или UID не могут быть сохранены
var ErrInvalidPosition = errors.New("storage: invalid position")

// PositionRepo определяет интерфейс для сохранения и загрузки позиций игроков.
// Позиции привязаны к UID игрока, заявленному в рукопожатии, и переживают переподключение.
type PositionRepo interface {
	// Save сохраняет позицию игрока.
	Save(ctx context.Context, uid int32, pos vec.Vec3) error

	// Load загружает позицию игрока.
	// Возвращает:
	//   vec.Vec3 - позиция игрока
	//   bool - true если позиция найдена, false если первый вход
	//   error - ошибка при загрузке
	Load(ctx context.Context, uid int32) (vec.Vec3, bool, error)

	// Delete удаляет сохраненную позицию игрока (для тестов или сброса).
	Delete(ctx context.Context, uid int32) error

	// BatchSave сохраняет позиции нескольких игроков одновременно (для автосохранения).
	BatchSave(ctx context.Context, positions map[int32]vec.Vec3) error
}

// validate проверяет UID игрока и конечность координат
func validate(uid int32, pos vec.Vec3) error {
	if uid <= 0 {
		return fmt.Errorf("%w: uid %d", ErrInvalidPosition, uid)
	}
	for _, c := range [3]float32{pos.X, pos.Y, pos.Z} {
		f := float64(c)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: uid %d: %v", ErrInvalidPosition, uid, pos)
		}
	}
	return nil
}

func validateUID(uid int32) error {
	if uid <= 0 {
		return fmt.Errorf("%w: uid %d", ErrInvalidPosition, uid)
	}
	return nil
}

package storage

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/arena-sync/internal/vec"
)

// TestMemoryPositionRepo тестирует in-memory репозиторий позиций
func TestMemoryPositionRepo(t *testing.T) {
	repo := NewMemoryPositionRepo()
	ctx := context.Background()

	t.Run("Save and Load", func(t *testing.T) {
		want := vec.Vec3{X: 10, Y: 2, Z: -30}
		require.NoError(t, repo.Save(ctx, 123, want))

		got, found, err := repo.Load(ctx, 123)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, want, got)
	})

	t.Run("Load Unknown Player", func(t *testing.T) {
		pos, found, err := repo.Load(ctx, 999)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, vec.Vec3{}, pos)
	})

	t.Run("Update Position", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, 456, vec.Vec3{X: 1, Y: 2, Z: 3}))
		require.NoError(t, repo.Save(ctx, 456, vec.Vec3{X: 3, Y: 4, Z: 5}))

		got, found, err := repo.Load(ctx, 456)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, vec.Vec3{X: 3, Y: 4, Z: 5}, got)
	})

	t.Run("Delete Position", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, 789, vec.Vec3{X: 5}))
		require.NoError(t, repo.Delete(ctx, 789))

		_, found, err := repo.Load(ctx, 789)
		require.NoError(t, err)
		assert.False(t, found)

		assert.Error(t, repo.Delete(ctx, 789))
	})

	t.Run("BatchSave", func(t *testing.T) {
		positions := map[int32]vec.Vec3{
			100: {X: 10, Y: 11, Z: 1},
			200: {X: 20, Y: 21, Z: 2},
			300: {X: -30, Y: 31, Z: 1},
		}
		require.NoError(t, repo.BatchSave(ctx, positions))

		for uid, want := range positions {
			got, found, err := repo.Load(ctx, uid)
			require.NoError(t, err)
			require.True(t, found, "uid %d", uid)
			assert.Equal(t, want, got)
		}
	})

	t.Run("BatchSave Is All Or Nothing", func(t *testing.T) {
		before := repo.Count()
		err := repo.BatchSave(ctx, map[int32]vec.Vec3{
			400: {X: 1},
			-5:  {X: 2},
		})
		assert.ErrorIs(t, err, ErrInvalidPosition)
		assert.Equal(t, before, repo.Count())
	})

	t.Run("Validation", func(t *testing.T) {
		assert.ErrorIs(t, repo.Save(ctx, 0, vec.Vec3{X: 1}), ErrInvalidPosition)
		assert.ErrorIs(t, repo.Save(ctx, -7, vec.Vec3{X: 1}), ErrInvalidPosition)

		nan := float32(math.NaN())
		assert.ErrorIs(t, repo.Save(ctx, 1, vec.Vec3{X: nan}), ErrInvalidPosition)
		inf := float32(math.Inf(1))
		assert.ErrorIs(t, repo.Save(ctx, 1, vec.Vec3{Z: inf}), ErrInvalidPosition)

		_, _, err := repo.Load(ctx, 0)
		assert.ErrorIs(t, err, ErrInvalidPosition)
	})

	t.Run("Context Cancellation", func(t *testing.T) {
		canceled, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, repo.Save(canceled, 555, vec.Vec3{X: 1}), context.Canceled)
	})
}

// TestRepositoriesSatisfyInterface проверяет, что все реализации подходят под PositionRepo
func TestRepositoriesSatisfyInterface(t *testing.T) {
	var _ PositionRepo = (*MemoryPositionRepo)(nil)
	var _ PositionRepo = (*RedisPositionRepository)(nil)
	var _ PositionRepo = (*MariaPositionRepo)(nil)
	var _ PositionRepo = (*MongoPositionRepo)(nil)
}

package game

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/vec"
	"github.com/annel0/arena-sync/internal/world/entity"
)

// Ошибки управления NPC
var (
	ErrNotAuthority     = errors.New("game: operation requires authority role")
	ErrUnknownArchetype = errors.New("game: unknown archetype")
	ErrNoSuchNPC        = errors.New("game: no such npc")
	ErrLeaderMissing    = errors.New("game: leash leader missing")
)

// NPCRequest запрос на появление NPC
type NPCRequest struct {
	Name      string   `json:"name"`
	Archetype int32    `json:"archetype"`
	Position  vec.Vec3 `json:"position"`
	// LeashTo UID ведущего юнита; NPC следует за ним со смещением Offset
	LeashTo int32    `json:"leash_to,omitempty"`
	Offset  vec.Vec3 `json:"offset,omitempty"`
	Wander  bool     `json:"wander,omitempty"`
}

// call выполняет fn в потоке тика и ждёт результата.
// Если ctx отменён раньше, чем тик взялся за fn, fn не выполняется вовсе;
// если fn уже начата, call дожидается её результата.
func (m *EventManager) call(ctx context.Context, fn func() error) error {
	var claimed atomic.Bool
	done := make(chan error, 1)
	m.Do(func() {
		if claimed.CompareAndSwap(false, true) {
			done <- fn()
		}
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if claimed.CompareAndSwap(false, true) {
			return ctx.Err()
		}
		return <-done
	}
}

// SpawnNPC создаёт NPC. Запись Spawn попадает в пакет ближайшего тика. Потокобезопасен.
func (m *EventManager) SpawnNPC(ctx context.Context, req NPCRequest) (int32, error) {
	if m.role != RoleAuthority {
		return 0, ErrNotAuthority
	}
	arch, ok := m.catalog.Archetype(req.Archetype)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownArchetype, req.Archetype)
	}
	if req.Name == "" {
		req.Name = arch.Name
	}

	result := make(chan int32, 1)
	err := m.call(ctx, func() error {
		if req.LeashTo != 0 {
			if _, ok := m.store.Unit(req.LeashTo); !ok {
				return fmt.Errorf("%w: %d", ErrLeaderMissing, req.LeashTo)
			}
		}
		uid, err := m.store.Allocate(entity.KindNPC)
		if err != nil {
			return err
		}
		if m.rules.OutOfBounds(req.Position) {
			req.Position = m.rules.WrapInside(req.Position)
		}

		m.Emit(protocol.Spawn{
			UID:         uid,
			UnitType:    arch.ID,
			Health:      arch.MaxHealth,
			MaxHealth:   arch.MaxHealth,
			Position:    req.Position,
			Orientation: vec.Identity,
			Name:        protocol.SanitizeName(req.Name),
		})
		m.afterApply = append(m.afterApply, func() {
			u, ok := m.store.Unit(uid)
			if !ok {
				return
			}
			switch {
			case req.LeashTo != 0:
				u.LeashedBy = req.LeashTo
				u.LeashOffset = req.Offset
			case req.Wander:
				m.wanderers[uid] = entity.NewWanderer(m.wander, u.Position, m.rng)
			}
		})
		result <- uid
		return nil
	})
	if err != nil {
		return 0, err
	}
	uid := <-result
	m.logger.Info("🤖 NPC %d (%s) создан", uid, req.Name)
	return uid, nil
}

// RemoveNPC убирает NPC из мира. Потокобезопасен.
func (m *EventManager) RemoveNPC(ctx context.Context, uid int32) error {
	if m.role != RoleAuthority {
		return ErrNotAuthority
	}
	if uid >= 0 {
		return fmt.Errorf("%w: %d", ErrNoSuchNPC, uid)
	}
	return m.call(ctx, func() error {
		if _, ok := m.store.Unit(uid); !ok {
			return fmt.Errorf("%w: %d", ErrNoSuchNPC, uid)
		}
		m.Emit(protocol.Despawn{UID: uid})
		return nil
	})
}

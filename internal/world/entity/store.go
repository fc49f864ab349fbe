package entity

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/annel0/arena-sync/internal/vec"
)

// Ошибки хранилища
var (
	ErrUIDInUse    = errors.New("entity: uid already in use")
	ErrInvalidUID  = errors.New("entity: invalid uid")
	ErrUIDsExhaust = errors.New("entity: uid space exhausted")
)

// Store хранит живые сущности по UID.
// Не потокобезопасен: им владеет поток тика.
type Store struct {
	entities   map[int32]Entity
	nextPlayer int32 // Следующий положительный кандидат
	nextServer int32 // Следующий отрицательный кандидат
	owner      any
}

// NewStore создаёт пустое хранилище. owner становится Manager() у вставленных сущностей.
func NewStore(owner any) *Store {
	return &Store{
		entities:   make(map[int32]Entity),
		nextPlayer: 1,
		nextServer: -1,
		owner:      owner,
	}
}

// Allocate выдаёт свободный UID: положительный для игроков, отрицательный для остальных.
// Занятые UID пропускаются.
func (s *Store) Allocate(kind Kind) (int32, error) {
	if len(s.entities) >= math.MaxInt32-1 {
		return 0, ErrUIDsExhaust
	}
	if kind.ServerSpawned() {
		for {
			uid := s.nextServer
			if s.nextServer == math.MinInt32 {
				s.nextServer = -1
			} else {
				s.nextServer--
			}
			if _, used := s.entities[uid]; !used {
				return uid, nil
			}
		}
	}
	for {
		uid := s.nextPlayer
		if s.nextPlayer == math.MaxInt32 {
			s.nextPlayer = 1
		} else {
			s.nextPlayer++
		}
		if _, used := s.entities[uid]; !used {
			return uid, nil
		}
	}
}

// MustAllocate как Allocate, но паникует при исчерпании UID
func (s *Store) MustAllocate(kind Kind) int32 {
	uid, err := s.Allocate(kind)
	if err != nil {
		panic(err)
	}
	return uid
}

// Insert добавляет сущность; UID должен быть свободен
func (s *Store) Insert(e Entity) error {
	uid := e.UID()
	if uid == 0 {
		return fmt.Errorf("%w: 0", ErrInvalidUID)
	}
	if _, exists := s.entities[uid]; exists {
		return fmt.Errorf("%w: %d", ErrUIDInUse, uid)
	}
	if m, ok := e.(managed); ok {
		m.setManager(s.owner)
	}
	s.entities[uid] = e
	return nil
}

// Get возвращает сущность по UID
func (s *Store) Get(uid int32) (Entity, bool) {
	e, ok := s.entities[uid]
	return e, ok
}

// Contains проверяет, занят ли UID
func (s *Store) Contains(uid int32) bool {
	_, ok := s.entities[uid]
	return ok
}

// Unit возвращает юнит по UID
func (s *Store) Unit(uid int32) (*Unit, bool) {
	u, ok := s.entities[uid].(*Unit)
	return u, ok
}

// Effect возвращает эффект по UID
func (s *Store) Effect(uid int32) (*Effect, bool) {
	e, ok := s.entities[uid].(*Effect)
	return e, ok
}

// Buff возвращает баф по UID
func (s *Store) Buff(uid int32) (*Buff, bool) {
	b, ok := s.entities[uid].(*Buff)
	return b, ok
}

// Remove удаляет сущность и возвращает её
func (s *Store) Remove(uid int32) (Entity, bool) {
	e, ok := s.entities[uid]
	if !ok {
		return nil, false
	}
	delete(s.entities, uid)
	if m, ok := e.(managed); ok {
		m.setManager(nil)
	}
	return e, true
}

// Len количество живых сущностей
func (s *Store) Len() int {
	return len(s.entities)
}

// Units возвращает все юниты, отсортированные по UID
func (s *Store) Units() []*Unit {
	out := make([]*Unit, 0, len(s.entities))
	for _, e := range s.entities {
		if u, ok := e.(*Unit); ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].uid < out[j].uid })
	return out
}

// Effects возвращает все эффекты, отсортированные по UID
func (s *Store) Effects() []*Effect {
	out := make([]*Effect, 0)
	for _, e := range s.entities {
		if ef, ok := e.(*Effect); ok {
			out = append(out, ef)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].uid < out[j].uid })
	return out
}

// Buffs возвращает все бафы, отсортированные по UID
func (s *Store) Buffs() []*Buff {
	out := make([]*Buff, 0)
	for _, e := range s.entities {
		if b, ok := e.(*Buff); ok {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].uid < out[j].uid })
	return out
}

// EffectsBy возвращает эффекты, созданные указанным юнитом
func (s *Store) EffectsBy(creator int32) []*Effect {
	var out []*Effect
	for _, ef := range s.Effects() {
		if ef.CreatorUID == creator {
			out = append(out, ef)
		}
	}
	return out
}

// FollowLeashes переносит привязанные юниты к их ведущим.
// Привязка к исчезнувшему или мёртвому ведущему снимается.
func (s *Store) FollowLeashes() []*Unit {
	var moved []*Unit
	for _, u := range s.Units() {
		if u.LeashedBy == 0 {
			continue
		}
		leader, ok := s.Unit(u.LeashedBy)
		if !ok || leader.Dead() || leader.LeashedBy == u.uid {
			u.LeashedBy = 0
			u.LeashOffset = vec.Zero3
			continue
		}
		u.Position = leader.Position.Add(u.LeashOffset)
		u.Velocity = leader.Velocity
		u.Orientation = leader.Orientation
		moved = append(moved, u)
	}
	return moved
}

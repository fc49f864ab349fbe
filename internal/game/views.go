package game

import (
	"time"

	"github.com/annel0/arena-sync/internal/vec"
)

// UnitView снимок юнита для читателей вне потока тика
type UnitView struct {
	UID         int32    `json:"uid"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Archetype   int32    `json:"archetype"`
	Health      int32    `json:"health"`
	MaxHealth   int32    `json:"max_health"`
	Dead        bool     `json:"dead"`
	Position    vec.Vec3 `json:"position"`
	LastEventID uint32   `json:"last_event_id"`
	Buffs       []int32  `json:"buffs,omitempty"`
	LeashedBy   int32    `json:"leashed_by,omitempty"`
}

// View неизменяемый снимок мира, публикуемый в конце каждого тика
type View struct {
	Tick    uint64        `json:"tick"`
	Now     time.Duration `json:"now"`
	Units   []UnitView    `json:"units"`
	Effects int           `json:"effects"`
	Buffs   int           `json:"buffs"`
}

func (m *EventManager) publish(now time.Duration) {
	units := m.store.Units()
	v := &View{
		Tick:    m.tick,
		Now:     now,
		Units:   make([]UnitView, 0, len(units)),
		Effects: len(m.store.Effects()),
		Buffs:   len(m.store.Buffs()),
	}
	for _, u := range units {
		v.Units = append(v.Units, UnitView{
			UID:         u.UID(),
			Name:        u.Name(),
			Kind:        u.Kind().String(),
			Archetype:   u.Archetype,
			Health:      u.Health,
			MaxHealth:   u.MaxHealth,
			Dead:        u.Dead(),
			Position:    u.Position,
			LastEventID: u.LastEventID(),
			Buffs:       u.BuffUIDs(),
			LeashedBy:   u.LeashedBy,
		})
	}
	m.view.Store(v)
}

// View последний опубликованный снимок. Потокобезопасен.
func (m *EventManager) View() *View {
	return m.view.Load()
}

// UnitView снимок одного юнита из последнего опубликованного состояния. Потокобезопасен.
func (m *EventManager) UnitView(uid int32) (UnitView, bool) {
	for _, u := range m.View().Units {
		if u.UID == uid {
			return u, true
		}
	}
	return UnitView{}, false
}

// PlayerPositions позиции игроков из последнего снимка. Потокобезопасен.
func (m *EventManager) PlayerPositions() map[int32]vec.Vec3 {
	out := make(map[int32]vec.Vec3)
	for _, u := range m.View().Units {
		if u.UID > 0 {
			out[u.UID] = u.Position
		}
	}
	return out
}

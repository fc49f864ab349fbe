package entity

import (
	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/vec"
)

// Effect временный объект мира (тотем, метка и т.п.)
type Effect struct {
	base

	EffectType  int32
	CreatorUID  int32
	Position    vec.Vec3
	Orientation vec.Quat
}

// EffectFromCreate строит эффект из записи Create
func EffectFromCreate(c protocol.Create) *Effect {
	return &Effect{
		base:        base{uid: c.UID, name: c.Name, kind: KindEffect},
		EffectType:  c.EffectType,
		CreatorUID:  c.CreatorUID,
		Position:    c.Position,
		Orientation: c.Orientation,
	}
}

// Create возвращает запись, воссоздающую эффект
func (e *Effect) Create() protocol.Create {
	return protocol.Create{
		UID:         e.uid,
		EffectType:  e.EffectType,
		CreatorUID:  e.CreatorUID,
		Position:    e.Position,
		Orientation: e.Orientation,
		Name:        e.name,
	}
}

// Buff баф, наложенный одним юнитом на другой
type Buff struct {
	base

	BuffType  int32
	CasterUID int32
	TargetUID int32
}

// BuffFromRecord строит баф из записи Buff
func BuffFromRecord(b protocol.Buff) *Buff {
	return &Buff{
		base:      base{uid: b.UID, kind: KindBuff},
		BuffType:  b.BuffType,
		CasterUID: b.CasterUID,
		TargetUID: b.TargetUID,
	}
}

// Record возвращает запись, воссоздающую баф
func (b *Buff) Record() protocol.Buff {
	return protocol.Buff{UID: b.uid, CasterUID: b.CasterUID, TargetUID: b.TargetUID, BuffType: b.BuffType}
}

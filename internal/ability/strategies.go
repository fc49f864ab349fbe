package ability

import (
	"time"

	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/vec"
	"github.com/annel0/arena-sync/internal/world/entity"
)

// Reason причина отклонения действия. Наружу не передаётся, только в логи и метрики.
type Reason string

const (
	ReasonOK          Reason = ""
	ReasonWrongCaster Reason = "wrong_caster"
	ReasonNoUnit      Reason = "no_unit"
	ReasonUnknownCode Reason = "unknown_code"
	ReasonShape       Reason = "record_shape"
	ReasonNotOwned    Reason = "not_owned"
	ReasonDead        Reason = "dead"
	ReasonStunned     Reason = "stunned"
	ReasonCooldown    Reason = "cooldown"
	ReasonTarget      Reason = "target"
	ReasonRange       Reason = "range"
	ReasonState       Reason = "state"
)

// Deferred отложенные записи, которые сработают через After после применения действия
type Deferred struct {
	After   time.Duration
	Records []protocol.Record
}

// strategy поведение одного вида способностей
type strategy struct {
	record protocol.Kind
	// validate чистый предикат, не меняет состояние
	validate func(v *Validator, caster *entity.Unit, a Ability, rec protocol.CastRecord) Reason
	// apply немедленный эффект; nil означает, что откладывать нечего
	apply func(v *Validator, caster *entity.Unit, a Ability, rec protocol.CastRecord) *Deferred
}

var strategies map[Kind]strategy

func init() {
	strategies = map[Kind]strategy{
		KindRespawn:     {record: protocol.KindVectorCast, validate: validateRespawn, apply: applyRespawn},
		KindOutOfBounds: {record: protocol.KindVectorCast, validate: validateOutOfBounds, apply: applyTeleport},
		KindStrike:      {record: protocol.KindTargetedCast, validate: validateStrike, apply: applyTargeted},
		KindMend:        {record: protocol.KindTargetedCast, validate: validateMend, apply: applyTargeted},
		KindVolley:      {record: protocol.KindMultiTargetedCast, validate: validateVolley, apply: applyVolley},
		KindBlink:       {record: protocol.KindVectorCast, validate: validateBlink, apply: applyTeleport},
		KindAura:        {record: protocol.KindCast, validate: validateAlways, apply: applyAura},
		KindTotem:       {record: protocol.KindCast, validate: validateAlways, apply: applyTotem},
	}
}

func inRange(from, to vec.Vec3, r float32) bool {
	return r <= 0 || from.DistanceTo(to) <= r
}

func validateAlways(*Validator, *entity.Unit, Ability, protocol.CastRecord) Reason {
	return ReasonOK
}

func validateRespawn(_ *Validator, caster *entity.Unit, _ Ability, _ protocol.CastRecord) Reason {
	if !caster.Dead() {
		return ReasonState
	}
	return ReasonOK
}

func validateOutOfBounds(v *Validator, caster *entity.Unit, _ Ability, _ protocol.CastRecord) Reason {
	if caster.Dead() {
		return ReasonDead
	}
	if !v.rules.OutOfBounds(caster.Position) {
		return ReasonState
	}
	return ReasonOK
}

func validateStrike(v *Validator, caster *entity.Unit, a Ability, rec protocol.CastRecord) Reason {
	tc := rec.(protocol.TargetedCast)
	if tc.TargetUID == caster.UID() {
		return ReasonTarget
	}
	target, ok := v.env.Unit(tc.TargetUID)
	if !ok || !target.Attackable() {
		return ReasonTarget
	}
	if !inRange(caster.Position, target.Position, a.Range) {
		return ReasonRange
	}
	return ReasonOK
}

func validateMend(v *Validator, caster *entity.Unit, a Ability, rec protocol.CastRecord) Reason {
	tc := rec.(protocol.TargetedCast)
	target, ok := v.env.Unit(tc.TargetUID)
	if !ok || target.Dead() {
		return ReasonTarget
	}
	if target != caster && !target.Targetable() {
		return ReasonTarget
	}
	if !inRange(caster.Position, target.Position, a.Range) {
		return ReasonRange
	}
	return ReasonOK
}

func validateVolley(v *Validator, caster *entity.Unit, a Ability, rec protocol.CastRecord) Reason {
	mc := rec.(protocol.MultiTargetedCast)
	if len(mc.Targets) == 0 || len(mc.Targets) > protocol.MaxTargets {
		return ReasonTarget
	}
	seen := make(map[int32]bool, len(mc.Targets))
	for _, uid := range mc.Targets {
		if uid == caster.UID() || seen[uid] {
			return ReasonTarget
		}
		seen[uid] = true
		target, ok := v.env.Unit(uid)
		if !ok || !target.Attackable() {
			return ReasonTarget
		}
		if !inRange(caster.Position, target.Position, a.Range) {
			return ReasonRange
		}
	}
	return ReasonOK
}

func validateBlink(v *Validator, caster *entity.Unit, a Ability, rec protocol.CastRecord) Reason {
	vc := rec.(protocol.VectorCast)
	if v.rules.OutOfBounds(vc.Position) {
		return ReasonRange
	}
	if !inRange(caster.Position, vc.Position, a.Range) {
		return ReasonRange
	}
	return ReasonOK
}

func applyRespawn(_ *Validator, caster *entity.Unit, _ Ability, rec protocol.CastRecord) *Deferred {
	vc := rec.(protocol.VectorCast)
	caster.Revive(caster.MaxHealth)
	caster.Position = vc.Position
	caster.Orientation = vc.Orientation.Normalized()
	caster.Velocity = vec.Zero3
	return nil
}

func applyTeleport(_ *Validator, caster *entity.Unit, _ Ability, rec protocol.CastRecord) *Deferred {
	vc := rec.(protocol.VectorCast)
	caster.Position = vc.Position
	caster.Orientation = vc.Orientation.Normalized()
	caster.Velocity = vec.Zero3
	return nil
}

func applyTargeted(_ *Validator, caster *entity.Unit, a Ability, rec protocol.CastRecord) *Deferred {
	tc := rec.(protocol.TargetedCast)
	if !caster.Dead() {
		caster.AnimState = entity.AnimCast
	}
	return &Deferred{
		After: a.Windup,
		Records: []protocol.Record{
			protocol.CombatEffect{SourceUID: caster.UID(), TargetUID: tc.TargetUID, Code: tc.Code, Value: a.Power},
		},
	}
}

func applyVolley(_ *Validator, caster *entity.Unit, a Ability, rec protocol.CastRecord) *Deferred {
	mc := rec.(protocol.MultiTargetedCast)
	if !caster.Dead() {
		caster.AnimState = entity.AnimCast
	}
	d := &Deferred{After: a.Windup, Records: make([]protocol.Record, 0, len(mc.Targets))}
	for _, uid := range mc.Targets {
		d.Records = append(d.Records, protocol.CombatEffect{SourceUID: caster.UID(), TargetUID: uid, Code: mc.Code, Value: a.Power})
	}
	return d
}

func applyAura(v *Validator, caster *entity.Unit, a Ability, _ protocol.CastRecord) *Deferred {
	uid := v.env.Allocate(entity.KindBuff)
	v.env.Emit(protocol.Buff{UID: uid, CasterUID: caster.UID(), TargetUID: caster.UID(), BuffType: a.BuffType})
	return &Deferred{After: a.Duration, Records: []protocol.Record{protocol.Debuff{UID: uid}}}
}

func applyTotem(v *Validator, caster *entity.Unit, a Ability, _ protocol.CastRecord) *Deferred {
	uid := v.env.Allocate(entity.KindEffect)
	v.env.Emit(protocol.Create{
		UID:         uid,
		EffectType:  a.EffectType,
		CreatorUID:  caster.UID(),
		Position:    caster.Position,
		Orientation: caster.Orientation,
		Name:        a.Name,
	})
	return &Deferred{After: a.Duration, Records: []protocol.Record{protocol.Destroy{UID: uid}}}
}

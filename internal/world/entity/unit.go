package entity

import (
	"sort"

	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/vec"
)

// Flags набор булевых состояний юнита
type Flags uint8

const (
	FlagDead Flags = 1 << iota
	FlagAttackable
	FlagStunned
	FlagInvulnerable
	FlagTargetable
)

// Типы бафов, влияющие на флаги юнита
const (
	BuffWard  int32 = 1 // Неуязвимость
	BuffSnare int32 = 2 // Оглушение
	BuffVeil  int32 = 3 // Невозможность выбрать целью
)

// Состояния анимации, передаваемые в позах
const (
	AnimIdle int32 = iota
	AnimMove
	AnimCast
	AnimDead
)

// Unit юнит с здоровьем, флагами и счётчиком событий
type Unit struct {
	base

	Archetype   int32
	Health      int32
	MaxHealth   int32
	Position    vec.Vec3
	Velocity    vec.Vec3
	Orientation vec.Quat
	AnimState   int32

	// LeashedBy UID ведущего юнита (0 если привязки нет)
	LeashedBy   int32
	LeashOffset vec.Vec3

	lastEventID uint32
	flags       Flags
	buffs       map[int32]int32 // тип бафа -> UID бафа
}

// NewUnit создаёт живой юнит с полным здоровьем
func NewUnit(uid int32, name string, archetype, maxHealth int32) *Unit {
	kind := KindPlayer
	if uid < 0 {
		kind = KindNPC
	}
	u := &Unit{
		base:        base{uid: uid, name: name, kind: kind},
		Archetype:   archetype,
		Health:      maxHealth,
		MaxHealth:   maxHealth,
		Orientation: vec.Identity,
		buffs:       make(map[int32]int32),
	}
	u.refreshFlags()
	return u
}

// UnitFromSpawn восстанавливает юнит из записи Spawn
func UnitFromSpawn(s protocol.Spawn) *Unit {
	u := NewUnit(s.UID, s.Name, s.UnitType, s.MaxHealth)
	u.ApplySpawn(s)
	return u
}

// ApplySpawn переписывает состояние юнита данными из Spawn
func (u *Unit) ApplySpawn(s protocol.Spawn) {
	u.name = s.Name
	u.Archetype = s.UnitType
	u.MaxHealth = s.MaxHealth
	u.Health = s.Health
	if u.Health > u.MaxHealth {
		u.Health = u.MaxHealth
	}
	if u.Health < 0 {
		u.Health = 0
	}
	u.Position = s.Position
	u.Orientation = s.Orientation
	if s.LastEventID > u.lastEventID {
		u.lastEventID = s.LastEventID
	}
	u.refreshFlags()
}

// Spawn возвращает запись, описывающую юнит целиком
func (u *Unit) Spawn() protocol.Spawn {
	return protocol.Spawn{
		UID:         u.uid,
		UnitType:    u.Archetype,
		Health:      u.Health,
		MaxHealth:   u.MaxHealth,
		Position:    u.Position,
		Orientation: u.Orientation,
		LastEventID: u.lastEventID,
		Name:        u.name,
	}
}

// Pose возвращает текущую позу юнита для ненадёжного канала
func (u *Unit) Pose() protocol.IdentifiedPose {
	return protocol.IdentifiedPose{
		UID:          u.uid,
		Position:     u.Position,
		Velocity:     u.Velocity,
		Orientation:  u.Orientation,
		AnimState:    u.AnimState,
		EventCounter: u.lastEventID,
	}
}

// ApplyPose применяет позу, если она не устарела относительно LastEventID.
// Возвращает false для устаревшей позы: состояние юнита при этом не меняется.
func (u *Unit) ApplyPose(p protocol.IdentifiedPose) bool {
	if p.EventCounter < u.lastEventID {
		return false
	}
	u.Position = p.Position
	u.Velocity = p.Velocity
	u.Orientation = p.Orientation
	if !u.Dead() {
		u.AnimState = p.AnimState
	}
	return true
}

// LastEventID счётчик применённых надёжных событий
func (u *Unit) LastEventID() uint32 { return u.lastEventID }

// BumpEvent увеличивает LastEventID на единицу
func (u *Unit) BumpEvent() uint32 {
	u.lastEventID++
	return u.lastEventID
}

func (u *Unit) Flags() Flags       { return u.flags }
func (u *Unit) Dead() bool         { return u.flags&FlagDead != 0 }
func (u *Unit) Attackable() bool   { return u.flags&FlagAttackable != 0 }
func (u *Unit) Stunned() bool      { return u.flags&FlagStunned != 0 }
func (u *Unit) Invulnerable() bool { return u.flags&FlagInvulnerable != 0 }
func (u *Unit) Targetable() bool   { return u.flags&FlagTargetable != 0 }

// Damage наносит урон и возвращает фактически применённое значение.
// Неуязвимый или мёртвый юнит урон не получает.
func (u *Unit) Damage(amount int32) int32 {
	if amount <= 0 || u.Dead() || u.Invulnerable() {
		return 0
	}
	if amount > u.Health {
		amount = u.Health
	}
	u.Health -= amount
	u.refreshFlags()
	return amount
}

// Heal лечит юнит, не превышая максимум; мёртвого не лечит
func (u *Unit) Heal(amount int32) int32 {
	if amount <= 0 || u.Dead() {
		return 0
	}
	if room := u.MaxHealth - u.Health; amount > room {
		amount = room
	}
	u.Health += amount
	u.refreshFlags()
	return amount
}

// Revive возвращает юнит к жизни с указанным здоровьем (не больше максимума)
func (u *Unit) Revive(health int32) {
	if health <= 0 || health > u.MaxHealth {
		health = u.MaxHealth
	}
	u.Health = health
	u.AnimState = AnimIdle
	u.refreshFlags()
}

// AttachBuff связывает баф с юнитом. Если баф такого типа уже есть,
// возвращается UID прежнего бафа, который вызывающий обязан уничтожить.
func (u *Unit) AttachBuff(buffType, buffUID int32) (replaced int32, ok bool) {
	replaced, ok = u.buffs[buffType]
	u.buffs[buffType] = buffUID
	u.refreshFlags()
	if ok && replaced == buffUID {
		return 0, false
	}
	return replaced, ok
}

// DetachBuff снимает баф по UID; возвращает false, если такого бафа на юните нет
func (u *Unit) DetachBuff(buffUID int32) bool {
	for t, uid := range u.buffs {
		if uid == buffUID {
			delete(u.buffs, t)
			u.refreshFlags()
			return true
		}
	}
	return false
}

// BuffOfType возвращает UID активного бафа данного типа
func (u *Unit) BuffOfType(buffType int32) (int32, bool) {
	uid, ok := u.buffs[buffType]
	return uid, ok
}

// BuffUIDs возвращает UID всех активных бафов в порядке возрастания типа
func (u *Unit) BuffUIDs() []int32 {
	types := make([]int32, 0, len(u.buffs))
	for t := range u.buffs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	out := make([]int32, 0, len(types))
	for _, t := range types {
		out = append(out, u.buffs[t])
	}
	return out
}

// refreshFlags пересчитывает флаги из здоровья и активных бафов
func (u *Unit) refreshFlags() {
	var f Flags
	if u.Health <= 0 {
		u.Health = 0
		f |= FlagDead
		u.AnimState = AnimDead
		u.Velocity = vec.Zero3
	}
	if _, ok := u.buffs[BuffWard]; ok {
		f |= FlagInvulnerable
	}
	if _, ok := u.buffs[BuffSnare]; ok {
		f |= FlagStunned
	}
	if _, ok := u.buffs[BuffVeil]; !ok {
		f |= FlagTargetable
	}
	if f&FlagDead == 0 && f&FlagTargetable != 0 {
		f |= FlagAttackable
	}
	u.flags = f
}

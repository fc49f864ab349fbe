// Package protocol описывает бинарный формат надёжных (RD) и ненадёжных (URD) записей.
// Все многобайтовые поля передаются в big-endian, у каждого варианта фиксированный
// либо структурно вычислимый размер: длина отдельного поля не передаётся, только тег записи.
package protocol

import (
	"fmt"

	"github.com/annel0/arena-sync/internal/vec"
)

// Kind дискриминант записи на проводе
type Kind int32

const (
	KindSpawn             Kind = 1  // Появление юнита
	KindDespawn           Kind = 2  // Удаление юнита
	KindCast              Kind = 3  // Простое действие
	KindTargetedCast      Kind = 4  // Действие с одной целью
	KindMultiTargetedCast Kind = 5  // Действие с несколькими целями
	KindVectorCast        Kind = 6  // Действие с позицией и ориентацией
	KindCombatEffect      Kind = 7  // Урон или лечение
	KindCreate            Kind = 8  // Создание эффекта
	KindDestroy           Kind = 9  // Удаление эффекта
	KindBuff              Kind = 10 // Наложение бафа
	KindDebuff            Kind = 11 // Снятие бафа
	KindNoop              Kind = 12 // Приватный отказ в действии
)

// Ограничения формата
const (
	MaxNameLen = 64 // Максимальная длина имени в байтах (без завершающего NUL)
	MaxTargets = 16 // Максимальное число целей в MultiTargetedCast; лишние цели при кодировании отбрасываются
)

// Размеры записей в байтах
const (
	CastSize          = 12
	TargetedCastSize  = 16
	multiTargetedBase = 16
	VectorCastSize    = 40
	spawnBase         = 52
	DespawnSize       = 8
	CombatEffectSize  = 20
	createBase        = 44
	DestroySize       = 8
	BuffSize          = 20
	DebuffSize        = 8
	NoopSize          = 8
)

var kindNames = map[Kind]string{
	KindSpawn:             "Spawn",
	KindDespawn:           "Despawn",
	KindCast:              "Cast",
	KindTargetedCast:      "TargetedCast",
	KindMultiTargetedCast: "MultiTargetedCast",
	KindVectorCast:        "VectorCast",
	KindCombatEffect:      "CombatEffect",
	KindCreate:            "Create",
	KindDestroy:           "Destroy",
	KindBuff:              "Buff",
	KindDebuff:            "Debuff",
	KindNoop:              "Noop",
}

// String возвращает читаемое имя типа записи
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int32(k))
}

// Valid проверяет, что тег известен
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Record общая форма надёжной записи
type Record interface {
	Kind() Kind
	// Size возвращает точный размер записи на проводе, включая тег
	Size() int
}

// CastRecord запись-действие, выпущенная юнитом
type CastRecord interface {
	Record
	Caster() int32
	ActionCode() int32
	// WithCode возвращает копию записи с другим кодом действия
	WithCode(code int32) CastRecord
}

// Spawn создаёт юнит с полным начальным состоянием
type Spawn struct {
	UID         int32    `json:"uid"`
	UnitType    int32    `json:"unit_type"`
	Health      int32    `json:"health"`
	MaxHealth   int32    `json:"max_health"`
	Position    vec.Vec3 `json:"position"`
	Orientation vec.Quat `json:"orientation"`
	LastEventID uint32   `json:"last_event_id"`
	Name        string   `json:"name"`
}

func (Spawn) Kind() Kind  { return KindSpawn }
func (s Spawn) Size() int { return spawnBase + len(SanitizeName(s.Name)) + 1 }

// Despawn удаляет юнит
type Despawn struct {
	UID int32 `json:"uid"`
}

func (Despawn) Kind() Kind { return KindDespawn }
func (Despawn) Size() int  { return DespawnSize }

// Cast простое действие без цели
type Cast struct {
	CasterUID int32 `json:"caster_uid"`
	Code      int32 `json:"code"`
}

func (Cast) Kind() Kind                       { return KindCast }
func (Cast) Size() int                        { return CastSize }
func (c Cast) Caster() int32                  { return c.CasterUID }
func (c Cast) ActionCode() int32              { return c.Code }
func (c Cast) WithCode(code int32) CastRecord { c.Code = code; return c }

// TargetedCast действие с одной целью
type TargetedCast struct {
	CasterUID int32 `json:"caster_uid"`
	TargetUID int32 `json:"target_uid"`
	Code      int32 `json:"code"`
}

func (TargetedCast) Kind() Kind                       { return KindTargetedCast }
func (TargetedCast) Size() int                        { return TargetedCastSize }
func (c TargetedCast) Caster() int32                  { return c.CasterUID }
func (c TargetedCast) ActionCode() int32              { return c.Code }
func (c TargetedCast) WithCode(code int32) CastRecord { c.Code = code; return c }

// MultiTargetedCast действие с несколькими целями.
// На проводе пустой список и nil неразличимы: декодер возвращает nil.
type MultiTargetedCast struct {
	CasterUID int32   `json:"caster_uid"`
	Code      int32   `json:"code"`
	Targets   []int32 `json:"targets"`
}

func (MultiTargetedCast) Kind() Kind          { return KindMultiTargetedCast }
func (c MultiTargetedCast) Size() int         { return multiTargetedBase + 4*len(c.wireTargets()) }
func (c MultiTargetedCast) Caster() int32     { return c.CasterUID }
func (c MultiTargetedCast) ActionCode() int32 { return c.Code }

// wireTargets цели в том виде, в каком они попадут на провод
func (c MultiTargetedCast) wireTargets() []int32 {
	if len(c.Targets) > MaxTargets {
		return c.Targets[:MaxTargets]
	}
	return c.Targets
}

func (c MultiTargetedCast) WithCode(code int32) CastRecord {
	c.Code = code
	c.Targets = append([]int32(nil), c.Targets...)
	return c
}

// VectorCast действие с точкой и ориентацией (телепорт, возрождение)
type VectorCast struct {
	CasterUID   int32    `json:"caster_uid"`
	Position    vec.Vec3 `json:"position"`
	Orientation vec.Quat `json:"orientation"`
	Code        int32    `json:"code"`
}

func (VectorCast) Kind() Kind                       { return KindVectorCast }
func (VectorCast) Size() int                        { return VectorCastSize }
func (c VectorCast) Caster() int32                  { return c.CasterUID }
func (c VectorCast) ActionCode() int32              { return c.Code }
func (c VectorCast) WithCode(code int32) CastRecord { c.Code = code; return c }

// CombatEffect урон или лечение от источника к цели
type CombatEffect struct {
	SourceUID int32 `json:"source_uid"`
	TargetUID int32 `json:"target_uid"`
	Code      int32 `json:"code"`
	Value     int32 `json:"value"`
}

func (CombatEffect) Kind() Kind { return KindCombatEffect }
func (CombatEffect) Size() int  { return CombatEffectSize }

// Create создаёт временный эффект в мире
type Create struct {
	UID         int32    `json:"uid"`
	EffectType  int32    `json:"effect_type"`
	CreatorUID  int32    `json:"creator_uid"`
	Position    vec.Vec3 `json:"position"`
	Orientation vec.Quat `json:"orientation"`
	Name        string   `json:"name"`
}

func (Create) Kind() Kind  { return KindCreate }
func (c Create) Size() int { return createBase + len(SanitizeName(c.Name)) + 1 }

// Destroy удаляет эффект
type Destroy struct {
	UID int32 `json:"uid"`
}

func (Destroy) Kind() Kind { return KindDestroy }
func (Destroy) Size() int  { return DestroySize }

// Buff накладывает баф на юнит
type Buff struct {
	UID       int32 `json:"uid"`
	CasterUID int32 `json:"caster_uid"`
	TargetUID int32 `json:"target_uid"`
	BuffType  int32 `json:"buff_type"`
}

func (Buff) Kind() Kind { return KindBuff }
func (Buff) Size() int  { return BuffSize }

// Debuff снимает баф
type Debuff struct {
	UID int32 `json:"uid"`
}

func (Debuff) Kind() Kind { return KindDebuff }
func (Debuff) Size() int  { return DebuffSize }

// Noop сообщает одному клиенту, что его действие отклонено
type Noop struct {
	SourceUID int32 `json:"source_uid"`
}

func (Noop) Kind() Kind { return KindNoop }
func (Noop) Size() int  { return NoopSize }

// SanitizeName приводит имя к допустимому виду: ASCII без NUL, не длиннее MaxNameLen
func SanitizeName(name string) string {
	clean := true
	for i := 0; i < len(name); i++ {
		if name[i] == 0 || name[i] > 0x7f {
			clean = false
			break
		}
	}
	if clean && len(name) <= MaxNameLen {
		return name
	}

	out := make([]byte, 0, MaxNameLen)
	for _, r := range name {
		if r == 0 || len(out) == MaxNameLen {
			break
		}
		if r > 0x7f {
			r = '?'
		}
		out = append(out, byte(r))
	}
	return string(out)
}

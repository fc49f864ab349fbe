package ability

import (
	"time"

	"github.com/annel0/arena-sync/internal/logging"
	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/world/entity"
)

// ComboLength длина кольца отслеживаемых кодов
const ComboLength = 3

// Env окружение валидатора, предоставляемое менеджером событий
type Env interface {
	// Unit возвращает живой юнит по UID
	Unit(uid int32) (*entity.Unit, bool)
	// Emit ставит запись, сгенерированную сервером, в следующий пакет рассылки.
	// На реплике ничего не делает.
	Emit(rec protocol.Record)
	// Allocate выдаёт серверный UID; на реплике возвращает 0
	Allocate(kind entity.Kind) int32
	// Authoritative true на сервере
	Authoritative() bool
}

// Validator конечный автомат действий одного юнита: Idle <-> AwaitingAck.
// Все методы вызываются только из потока тика.
type Validator struct {
	uid     int32
	catalog *Catalog
	rules   *Rules
	env     Env
	logger  *logging.Logger

	cooldowns map[int32]time.Duration // код -> время готовности

	pending     int32
	havePending bool

	acks    []protocol.Record
	delayed delayedQueue
	combo   [ComboLength]int32
}

// NewValidator создаёт валидатор юнита uid
func NewValidator(uid int32, catalog *Catalog, rules *Rules, env Env) *Validator {
	return &Validator{
		uid:       uid,
		catalog:   catalog,
		rules:     rules,
		env:       env,
		logger:    logging.GetAbilityLogger(),
		cooldowns: make(map[int32]time.Duration),
	}
}

// UID юнит, которому принадлежит валидатор
func (v *Validator) UID() int32 { return v.uid }

// Validate чистая проверка допустимости действия в момент now
func (v *Validator) Validate(rec protocol.CastRecord, now time.Duration) bool {
	return v.Check(rec, now) == ReasonOK
}

// Check как Validate, но возвращает причину отказа
func (v *Validator) Check(rec protocol.CastRecord, now time.Duration) Reason {
	if rec.Caster() != v.uid {
		return ReasonWrongCaster
	}
	caster, ok := v.env.Unit(v.uid)
	if !ok {
		return ReasonNoUnit
	}
	a, ok := v.catalog.Ability(rec.ActionCode())
	if !ok {
		return ReasonUnknownCode
	}
	st := strategies[a.Kind]
	if rec.Kind() != st.record {
		return ReasonShape
	}

	universal := a.Kind == KindRespawn || a.Kind == KindOutOfBounds
	if !universal {
		if a.ComboOnly || !v.catalog.Owns(caster.Archetype, a.Code) {
			return ReasonNotOwned
		}
		if caster.Dead() {
			return ReasonDead
		}
		if caster.Stunned() {
			return ReasonStunned
		}
	}
	if ready, ok := v.cooldowns[a.Code]; ok && now < ready {
		return ReasonCooldown
	}
	return st.validate(v, caster, a, rec)
}

// ServersideCheck вызывается только на сервере для принятого действия перед рассылкой.
// Может переписать запись: привязка возрождения к точке появления, возврат в зону, комбо.
func (v *Validator) ServersideCheck(rec protocol.CastRecord, now time.Duration) protocol.CastRecord {
	caster, ok := v.env.Unit(v.uid)
	if !ok {
		return rec
	}
	a, ok := v.catalog.Ability(rec.ActionCode())
	if !ok {
		return rec
	}

	switch a.Kind {
	case KindRespawn:
		vc := rec.(protocol.VectorCast)
		vc.Position = v.rules.NearestSpawn(vc.Position)
		vc.Orientation = vc.Orientation.Normalized()
		rec = vc
	case KindOutOfBounds:
		vc := rec.(protocol.VectorCast)
		vc.Position = v.rules.WrapInside(caster.Position)
		vc.Orientation = caster.Orientation
		rec = vc
	}

	// Резервируем перезарядку сразу, чтобы повтор в том же тике был отклонён
	if a.Cooldown > 0 {
		v.cooldowns[a.Code] = now + a.Cooldown
	}

	if a.Tracked {
		copy(v.combo[:], v.combo[1:])
		v.combo[ComboLength-1] = a.Code
		if result, ok := v.catalog.MatchCombo(v.combo); ok {
			v.logger.Debug("⚔️ Комбо юнита %d: %d -> %d", v.uid, a.Code, result)
			rec = rec.WithCode(result)
			v.combo = [ComboLength]int32{}
		}
	}
	return rec
}

// AddEvent ставит подтверждённое сервером действие (или Noop) в очередь на обработку
func (v *Validator) AddEvent(rec protocol.Record) {
	v.acks = append(v.acks, rec)
}

// ProcessAcks применяет подтверждённые действия и наступившие отложенные записи.
// Каждое применённое действие и каждая отложенная запись увеличивают LastEventID юнита;
// Noop счётчик не меняет.
func (v *Validator) ProcessAcks(now time.Duration) {
	caster, alive := v.env.Unit(v.uid)

	for i, rec := range v.acks {
		v.acks[i] = nil
		switch r := rec.(type) {
		case protocol.Noop:
			if r.SourceUID == v.uid {
				v.ClearPending()
			}
		case protocol.CastRecord:
			if r.Caster() != v.uid {
				v.logger.Warn("Действие юнита %d попало в валидатор %d", r.Caster(), v.uid)
				continue
			}
			v.ClearPending()
			if !alive {
				continue
			}
			v.applyCast(caster, r, now)
			caster.BumpEvent()
		default:
			v.logger.Warn("Неожиданная запись %s в очереди подтверждений юнита %d", rec.Kind(), v.uid)
		}
	}
	v.acks = v.acks[:0]

	for {
		e, ok := v.delayed.popDue(now)
		if !ok {
			break
		}
		v.resolve(e)
		if alive {
			caster.BumpEvent()
		}
	}
}

func (v *Validator) applyCast(caster *entity.Unit, rec protocol.CastRecord, now time.Duration) {
	a, ok := v.catalog.Ability(rec.ActionCode())
	if !ok {
		v.logger.Warn("Неизвестный код действия %d от юнита %d", rec.ActionCode(), v.uid)
		return
	}
	if a.Cooldown > 0 {
		v.cooldowns[a.Code] = now + a.Cooldown
	}
	if trigger, ok := v.catalog.ComboTrigger(a.Code); ok {
		if t, ok := v.catalog.Ability(trigger); ok && t.Cooldown > 0 {
			v.cooldowns[trigger] = now + t.Cooldown
		}
	}

	d := strategies[a.Kind].apply(v, caster, a, rec)
	if d == nil {
		return
	}
	for _, r := range d.Records {
		v.delayed.schedule(now+d.After, r)
	}
}

// resolve выпускает отложенную запись; на реплике Emit ничего не делает
func (v *Validator) resolve(e delayedEntry) {
	if !v.env.Authoritative() {
		return
	}
	switch r := e.record.(type) {
	case protocol.CombatEffect:
		if _, ok := v.env.Unit(r.TargetUID); !ok {
			v.logger.Warn("Цель %d отложенного эффекта юнита %d исчезла", r.TargetUID, v.uid)
			return
		}
	case protocol.Debuff, protocol.Destroy:
	default:
		v.logger.Warn("Пропущена неизвестная отложенная запись %s", e.record.Kind())
		return
	}
	v.env.Emit(e.record)
}

// IsClear можно ли отправить новое действие
func (v *Validator) IsClear() bool { return !v.havePending }

// SetPending отмечает отправленное на сервер действие
func (v *Validator) SetPending(code int32) {
	v.pending = code
	v.havePending = true
}

// ClearPending снимает отметку об ожидании
func (v *Validator) ClearPending() {
	v.pending = 0
	v.havePending = false
}

// Pending код ожидающего действия
func (v *Validator) Pending() (int32, bool) {
	return v.pending, v.havePending
}

// CooldownReady время, когда код снова будет доступен
func (v *Validator) CooldownReady(code int32) time.Duration {
	return v.cooldowns[code]
}

// PendingDeferred количество отложенных записей
func (v *Validator) PendingDeferred() int {
	return v.delayed.Len()
}

// NextDeferred время ближайшей отложенной записи
func (v *Validator) NextDeferred() (time.Duration, bool) {
	return v.delayed.next()
}

// ComboRing текущее содержимое кольца комбо
func (v *Validator) ComboRing() [ComboLength]int32 {
	return v.combo
}

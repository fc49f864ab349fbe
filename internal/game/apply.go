package game

import (
	"github.com/annel0/arena-sync/internal/ability"
	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/world/entity"
)

// apply применяет одну запись пакета к хранилищу. Обе роли применяют один и тот же пакет
// в одном и том же порядке, поэтому счётчики LastEventID совпадают.
// Кроме валидатора счётчик увеличивает только CombatEffect у цели: Create и Buff из снимка
// догоняющего клиента не должны сдвигать счётчик, пришедший в Spawn.
func (m *EventManager) apply(rec protocol.Record) {
	switch r := rec.(type) {
	case protocol.Spawn:
		m.applySpawn(r)
	case protocol.Despawn:
		m.applyDespawn(r.UID)
	case protocol.CastRecord:
		v, ok := m.validators[r.Caster()]
		if !ok {
			m.logger.Warn("⚠️ Действие %d для отсутствующего юнита %d", r.ActionCode(), r.Caster())
			return
		}
		v.AddEvent(r)
	case protocol.Noop:
		if v, ok := m.validators[r.SourceUID]; ok {
			v.AddEvent(r)
		}
	case protocol.CombatEffect:
		m.applyCombat(r)
	case protocol.Create:
		m.applyCreate(r)
	case protocol.Destroy:
		if _, ok := m.store.Effect(r.UID); !ok {
			m.logger.Debug("Destroy для отсутствующего эффекта %d", r.UID)
			return
		}
		m.store.Remove(r.UID)
	case protocol.Buff:
		m.applyBuff(r)
	case protocol.Debuff:
		m.applyDebuff(r.UID)
	default:
		m.logger.Warn("⚠️ Неизвестная запись %T", rec)
	}
}

func (m *EventManager) applySpawn(s protocol.Spawn) {
	if u, ok := m.store.Unit(s.UID); ok {
		u.ApplySpawn(s)
		return
	}
	if m.store.Contains(s.UID) {
		m.logger.Warn("⚠️ Spawn %d: UID занят объектом другого типа", s.UID)
		return
	}

	u := entity.UnitFromSpawn(s)
	if err := m.store.Insert(u); err != nil {
		m.logger.Error("❌ Spawn %d: %v", s.UID, err)
		return
	}
	m.validators[s.UID] = ability.NewValidator(s.UID, m.catalog, m.rules, m)
	m.presenter.OnSpawn(u)
	m.logger.Debug("✨ Появился юнит %d (%s)", s.UID, s.Name)
}

func (m *EventManager) applyDespawn(uid int32) {
	u, ok := m.store.Unit(uid)
	if !ok {
		m.logger.Debug("Despawn для отсутствующего юнита %d", uid)
		return
	}

	// Бафы на самом юните уходят вместе с ним на обеих сторонах
	for _, buffUID := range u.BuffUIDs() {
		m.store.Remove(buffUID)
	}
	m.store.Remove(uid)
	delete(m.validators, uid)
	delete(m.wanderers, uid)

	// Отложенные записи удалённого валидатора потеряны: сервер сам закрывает его эффекты и бафы
	if m.role == RoleAuthority {
		for _, ef := range m.store.EffectsBy(uid) {
			m.Emit(protocol.Destroy{UID: ef.UID()})
		}
		for _, b := range m.store.Buffs() {
			if b.CasterUID == uid {
				m.Emit(protocol.Debuff{UID: b.UID()})
			}
		}
	}

	m.presenter.OnDespawn(uid)
	m.logger.Debug("💨 Исчез юнит %d", uid)
}

func (m *EventManager) applyCombat(c protocol.CombatEffect) {
	target, ok := m.store.Unit(c.TargetUID)
	if !ok {
		m.logger.Warn("⚠️ CombatEffect %d: цель %d отсутствует", c.Code, c.TargetUID)
		return
	}

	var applied int32
	if m.catalog.Heals(c.Code) {
		applied = target.Heal(c.Value)
	} else {
		applied = target.Damage(c.Value)
	}
	target.BumpEvent()

	if m.role == RoleReplica && m.localUID != 0 && (c.SourceUID == m.localUID || c.TargetUID == m.localUID) {
		m.presenter.OnCombatText(c, applied)
	}
	if target.Dead() && applied > 0 {
		m.logger.Debug("💀 Юнит %d погиб от %d (код %d)", c.TargetUID, c.SourceUID, c.Code)
	}
}

func (m *EventManager) applyCreate(c protocol.Create) {
	if _, ok := m.store.Effect(c.UID); ok {
		return
	}
	if err := m.store.Insert(entity.EffectFromCreate(c)); err != nil {
		m.logger.Warn("⚠️ Create %d: %v", c.UID, err)
	}
}

func (m *EventManager) applyBuff(b protocol.Buff) {
	target, ok := m.store.Unit(b.TargetUID)
	if !ok {
		m.logger.Warn("⚠️ Buff %d: цель %d отсутствует", b.UID, b.TargetUID)
		return
	}
	if m.store.Contains(b.UID) {
		return
	}
	if err := m.store.Insert(entity.BuffFromRecord(b)); err != nil {
		m.logger.Warn("⚠️ Buff %d: %v", b.UID, err)
		return
	}

	// Не больше одного бафа каждого типа: прежний уничтожается
	if replaced, ok := target.AttachBuff(b.BuffType, b.UID); ok {
		m.store.Remove(replaced)
	}
}

func (m *EventManager) applyDebuff(uid int32) {
	b, ok := m.store.Buff(uid)
	if !ok {
		return
	}
	m.store.Remove(uid)
	if target, ok := m.store.Unit(b.TargetUID); ok {
		target.DetachBuff(uid)
	}
}

// Package game содержит менеджер событий: владельца хранилища сущностей,
// входящих очередей и конвейера обработки записей за тик.
package game

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/annel0/arena-sync/internal/ability"
	"github.com/annel0/arena-sync/internal/logging"
	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/world/entity"
)

// Role определяет, какая очередь управляет обработкой
type Role uint8

const (
	RoleAuthority Role = iota + 1 // Сервер: проверяет действия и формирует пакет рассылки
	RoleReplica                   // Клиент: применяет пакеты сервера как есть
)

func (r Role) String() string {
	switch r {
	case RoleAuthority:
		return "authority"
	case RoleReplica:
		return "replica"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Presenter слой представления реплики
type Presenter interface {
	OnSpawn(u *entity.Unit)
	OnDespawn(uid int32)
	// OnCombatText вызывается только если локальный игрок источник или цель
	OnCombatText(rec protocol.CombatEffect, applied int32)
}

// NopPresenter ничего не показывает
type NopPresenter struct{}

func (NopPresenter) OnSpawn(*entity.Unit)                      {}
func (NopPresenter) OnDespawn(int32)                           {}
func (NopPresenter) OnCombatText(protocol.CombatEffect, int32) {}

// Observer получает результаты проверки входящих данных (для метрик)
type Observer interface {
	CastAccepted(rec protocol.CastRecord)
	CastRejected(rec protocol.CastRecord, reason ability.Reason)
	PoseRejected(uid int32)
}

type nopObserver struct{}

func (nopObserver) CastAccepted(protocol.CastRecord)                 {}
func (nopObserver) CastRejected(protocol.CastRecord, ability.Reason) {}
func (nopObserver) PoseRejected(int32)                               {}

// Options параметры менеджера событий
type Options struct {
	Role    Role
	Catalog *ability.Catalog
	Rules   *ability.Rules
	// LocalUID игрок, которого представляет реплика
	LocalUID  int32
	Presenter Presenter
	Observer  Observer
	Scenery   []Scenery
	Wander    entity.WanderParams
	Seed      int64
}

type inboundRecord struct {
	from int32
	rec  protocol.Record
}

type inboundPoses struct {
	from  int32
	poses []protocol.IdentifiedPose
}

// EventManager владеет хранилищем сущностей и валидаторами юнитов.
// Step и все методы без пометки о потокобезопасности вызываются только из потока тика.
type EventManager struct {
	role      Role
	catalog   *ability.Catalog
	rules     *ability.Rules
	localUID  int32
	presenter Presenter
	observer  Observer
	scenery   []Scenery
	wander    entity.WanderParams
	rng       *rand.Rand
	logger    *logging.Logger

	store      *entity.Store
	validators map[int32]*ability.Validator
	wanderers  map[int32]*entity.Wanderer

	inbound   Queue[inboundRecord]
	poses     Queue[inboundPoses]
	received  Queue[protocol.Record]
	datagrams Queue[protocol.PoseDatagram]
	commands  Queue[func()]

	generated  []protocol.Record
	afterApply []func()
	scene      []protocol.ScenePose

	tick     uint64
	lastStep time.Duration
	view     atomic.Pointer[View]
}

// NewEventManager создаёт менеджер событий в указанной роли
func NewEventManager(opts Options) *EventManager {
	if opts.Catalog == nil {
		opts.Catalog = ability.DefaultCatalog()
	}
	if opts.Rules == nil {
		opts.Rules = ability.DefaultRules()
	}
	if opts.Presenter == nil {
		opts.Presenter = NopPresenter{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Role == 0 {
		opts.Role = RoleAuthority
	}

	m := &EventManager{
		role:       opts.Role,
		catalog:    opts.Catalog,
		rules:      opts.Rules,
		localUID:   opts.LocalUID,
		presenter:  opts.Presenter,
		observer:   opts.Observer,
		scenery:    opts.Scenery,
		wander:     opts.Wander,
		rng:        rand.New(rand.NewSource(opts.Seed)),
		logger:     logging.GetGameLogger(),
		validators: make(map[int32]*ability.Validator),
		wanderers:  make(map[int32]*entity.Wanderer),
	}
	m.store = entity.NewStore(m)
	m.scene = m.sceneryPoses(0)
	m.publish(0)
	return m
}

// Role роль менеджера
func (m *EventManager) Role() Role { return m.role }

// Catalog каталог способностей
func (m *EventManager) Catalog() *ability.Catalog { return m.catalog }

// Rules правила мира
func (m *EventManager) Rules() *ability.Rules { return m.rules }

// LocalUID игрок реплики (0 на сервере)
func (m *EventManager) LocalUID() int32 { return m.localUID }

// Unit возвращает живой юнит
func (m *EventManager) Unit(uid int32) (*entity.Unit, bool) {
	return m.store.Unit(uid)
}

// Units все юниты по возрастанию UID
func (m *EventManager) Units() []*entity.Unit {
	return m.store.Units()
}

// Validator валидатор юнита
func (m *EventManager) Validator(uid int32) (*ability.Validator, bool) {
	v, ok := m.validators[uid]
	return v, ok
}

// Emit ставит запись, сгенерированную сервером, в пакет следующего тика
func (m *EventManager) Emit(rec protocol.Record) {
	if m.role != RoleAuthority {
		return
	}
	m.generated = append(m.generated, rec)
}

// Enqueue синоним Emit для сетевого слоя: появление и исчезновение игроков
func (m *EventManager) Enqueue(rec protocol.Record) {
	m.Emit(rec)
}

// Allocate выдаёт серверный UID; на реплике возвращает 0
func (m *EventManager) Allocate(kind entity.Kind) int32 {
	if m.role != RoleAuthority {
		return 0
	}
	uid, err := m.store.Allocate(kind)
	if err != nil {
		m.logger.Error("❌ Не удалось выделить UID для %s: %v", kind, err)
		return 0
	}
	return uid
}

// Authoritative true для серверной роли
func (m *EventManager) Authoritative() bool { return m.role == RoleAuthority }

// Submit ставит запись, полученную от игрока from, во входящую очередь. Потокобезопасен.
func (m *EventManager) Submit(from int32, rec protocol.Record) {
	m.inbound.Push(inboundRecord{from: from, rec: rec})
}

// SubmitPoses ставит позы, полученные от игрока from, во входящую очередь. Потокобезопасен.
func (m *EventManager) SubmitPoses(from int32, poses []protocol.IdentifiedPose) {
	if len(poses) == 0 {
		return
	}
	m.poses.Push(inboundPoses{from: from, poses: poses})
}

// Receive ставит запись из пакета сервера в очередь реплики. Потокобезопасен.
func (m *EventManager) Receive(rec protocol.Record) {
	m.received.Push(rec)
}

// ReceivePoses ставит датаграмму поз в очередь реплики. Потокобезопасен.
func (m *EventManager) ReceivePoses(d protocol.PoseDatagram) {
	m.datagrams.Push(d)
}

// Do выполняет fn в потоке тика в начале следующего Step. Потокобезопасен.
func (m *EventManager) Do(fn func()) {
	m.commands.Push(fn)
}

// Step выполняет один тик и возвращает упорядоченный пакет записей этого тика.
// На сервере пакет уходит в рассылку; на реплике это применённые записи сервера.
func (m *EventManager) Step(now time.Duration) []protocol.Record {
	for _, cmd := range m.commands.Drain() {
		cmd()
	}

	var batch []protocol.Record
	if m.role == RoleAuthority {
		batch = m.composeBatch(now)
	} else {
		batch = m.received.Drain()
	}

	for _, rec := range batch {
		m.apply(rec)
	}
	for _, fn := range m.afterApply {
		fn()
	}
	m.afterApply = nil

	for _, u := range m.store.Units() {
		if v, ok := m.validators[u.UID()]; ok {
			v.ProcessAcks(now)
		}
	}

	if m.role == RoleAuthority {
		m.applyClientPoses()
		m.simulate(now)
	} else {
		m.applyServerPoses()
	}

	m.tick++
	m.lastStep = now
	m.publish(now)
	return batch
}

// composeBatch собирает пакет тика: сначала записи сервера, затем проверенные действия игроков
func (m *EventManager) composeBatch(now time.Duration) []protocol.Record {
	batch := m.generated
	m.generated = nil

	for _, in := range m.inbound.Drain() {
		switch r := in.rec.(type) {
		case protocol.Noop:
			// Поддержание соединения
		case protocol.CastRecord:
			batch = append(batch, m.preprocess(in.from, r, now))
		default:
			m.logger.Warn("⚠️ Игрок %d прислал запись %s, недопустимую для клиента", in.from, in.rec.Kind())
		}
	}
	return batch
}

// preprocess проверяет действие игрока: отказ заменяется Noop для отправителя
func (m *EventManager) preprocess(from int32, rec protocol.CastRecord, now time.Duration) protocol.Record {
	reason := ability.ReasonNoUnit
	v, ok := m.validators[from]
	if ok {
		reason = v.Check(rec, now)
	}
	if reason != ability.ReasonOK {
		m.observer.CastRejected(rec, reason)
		m.logger.Debug("🚫 Действие %d игрока %d отклонено: %s", rec.ActionCode(), from, reason)
		return protocol.Noop{SourceUID: from}
	}

	out := v.ServersideCheck(rec, now)
	m.observer.CastAccepted(out)
	return out
}

func (m *EventManager) applyClientPoses() {
	for _, in := range m.poses.Drain() {
		for _, p := range in.poses {
			if p.UID != in.from {
				m.observer.PoseRejected(in.from)
				continue
			}
			u, ok := m.store.Unit(p.UID)
			if !ok || u.Dead() || u.LeashedBy != 0 {
				continue
			}
			if !u.ApplyPose(p) {
				m.observer.PoseRejected(p.UID)
			}
		}
	}
}

func (m *EventManager) applyServerPoses() {
	for _, d := range m.datagrams.Drain() {
		if len(d.Scene) > 0 {
			m.scene = append(m.scene[:0], d.Scene...)
		}
		for _, p := range d.Units {
			if p.UID == m.localUID {
				continue
			}
			u, ok := m.store.Unit(p.UID)
			if !ok {
				continue
			}
			if !u.ApplyPose(p) {
				m.logger.Trace("Устаревшая поза юнита %d: %d < %d", p.UID, p.EventCounter, u.LastEventID())
			}
		}
	}
}

// simulate двигает управляемые сервером объекты
func (m *EventManager) simulate(now time.Duration) {
	dt := 0.0
	if m.tick > 0 && now > m.lastStep {
		dt = (now - m.lastStep).Seconds()
	}
	for uid, w := range m.wanderers {
		u, ok := m.store.Unit(uid)
		if !ok {
			delete(m.wanderers, uid)
			continue
		}
		w.Update(u, dt)
	}
	m.store.FollowLeashes()
	m.scene = m.sceneryPoses(now)
}

func (m *EventManager) sceneryPoses(now time.Duration) []protocol.ScenePose {
	if len(m.scenery) == 0 {
		return nil
	}
	out := make([]protocol.ScenePose, len(m.scenery))
	for i, s := range m.scenery {
		out[i] = s.PoseAt(now)
	}
	return out
}

// ScenePoses текущие позы постоянных объектов сцены
func (m *EventManager) ScenePoses() []protocol.ScenePose {
	return m.scene
}

// Snapshot полное состояние мира для догоняющего клиента, без юнита exclude.
// Порядок: юниты, эффекты, бафы.
func (m *EventManager) Snapshot(exclude int32) []protocol.Record {
	units := m.store.Units()
	effects := m.store.Effects()
	buffs := m.store.Buffs()

	out := make([]protocol.Record, 0, len(units)+len(effects)+len(buffs))
	for _, u := range units {
		if u.UID() == exclude {
			continue
		}
		out = append(out, u.Spawn())
	}
	for _, e := range effects {
		out = append(out, e.Create())
	}
	for _, b := range buffs {
		out = append(out, b.Record())
	}
	return out
}

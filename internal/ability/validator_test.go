package ability

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/vec"
	"github.com/annel0/arena-sync/internal/world/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnv struct {
	units   map[int32]*entity.Unit
	emitted []protocol.Record
	next    int32
	auth    bool
}

func newFakeEnv(auth bool) *fakeEnv {
	return &fakeEnv{units: make(map[int32]*entity.Unit), next: -100, auth: auth}
}

func (e *fakeEnv) Unit(uid int32) (*entity.Unit, bool) {
	u, ok := e.units[uid]
	return u, ok
}

func (e *fakeEnv) Emit(rec protocol.Record) {
	if e.auth {
		e.emitted = append(e.emitted, rec)
	}
}

func (e *fakeEnv) Allocate(entity.Kind) int32 {
	if !e.auth {
		return 0
	}
	e.next--
	return e.next
}

func (e *fakeEnv) Authoritative() bool { return e.auth }

func (e *fakeEnv) add(uid, archetype int32, pos vec.Vec3) *entity.Unit {
	u := entity.NewUnit(uid, "u", archetype, 100)
	u.Position = pos
	e.units[uid] = u
	return u
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestSingleFlight(t *testing.T) {
	env := newFakeEnv(false)
	u := env.add(1, ArchetypeWarrior, vec.Zero3)
	v := NewValidator(1, DefaultCatalog(), DefaultRules(), env)

	require.True(t, v.IsClear())
	v.SetPending(100)
	assert.False(t, v.IsClear())

	// Noop для другого игрока не снимает ожидание
	v.AddEvent(protocol.Noop{SourceUID: 2})
	v.ProcessAcks(0)
	assert.False(t, v.IsClear())

	v.AddEvent(protocol.Noop{SourceUID: 1})
	v.ProcessAcks(0)
	assert.True(t, v.IsClear())
	assert.Zero(t, u.LastEventID(), "Noop не увеличивает LastEventID")

	// Подтверждение собственным Cast
	v.SetPending(102)
	v.AddEvent(protocol.Cast{CasterUID: 1, Code: 102})
	v.ProcessAcks(ms(10))
	assert.True(t, v.IsClear())
	assert.Equal(t, uint32(1), u.LastEventID())
}

func TestValidateIsPure(t *testing.T) {
	env := newFakeEnv(true)
	env.add(1, ArchetypeWarrior, vec.Zero3)
	env.add(-5, ArchetypeDummy, vec.Vec3{X: 1})
	v := NewValidator(1, DefaultCatalog(), DefaultRules(), env)

	rec := protocol.TargetedCast{CasterUID: 1, TargetUID: -5, Code: 100}
	for i := 0; i < 3; i++ {
		assert.True(t, v.Validate(rec, 0))
	}
	assert.Zero(t, v.CooldownReady(100))
	assert.Equal(t, [ComboLength]int32{}, v.ComboRing())
	assert.True(t, v.IsClear())
}

func TestValidateRejections(t *testing.T) {
	env := newFakeEnv(true)
	caster := env.add(1, ArchetypeWarrior, vec.Zero3)
	env.add(-5, ArchetypeDummy, vec.Vec3{X: 1})
	env.add(-6, ArchetypeDummy, vec.Vec3{X: 50})
	v := NewValidator(1, DefaultCatalog(), DefaultRules(), env)

	cases := []struct {
		name string
		rec  protocol.CastRecord
		want Reason
	}{
		{"чужой кастер", protocol.TargetedCast{CasterUID: 2, TargetUID: -5, Code: 100}, ReasonWrongCaster},
		{"неизвестный код", protocol.Cast{CasterUID: 1, Code: 9999}, ReasonUnknownCode},
		{"неверная форма", protocol.Cast{CasterUID: 1, Code: 100}, ReasonShape},
		{"чужой архетип", protocol.TargetedCast{CasterUID: 1, TargetUID: -5, Code: 200}, ReasonNotOwned},
		{"только комбо", protocol.TargetedCast{CasterUID: 1, TargetUID: -5, Code: 103}, ReasonNotOwned},
		{"цель сам", protocol.TargetedCast{CasterUID: 1, TargetUID: 1, Code: 100}, ReasonTarget},
		{"нет цели", protocol.TargetedCast{CasterUID: 1, TargetUID: -77, Code: 100}, ReasonTarget},
		{"далеко", protocol.TargetedCast{CasterUID: 1, TargetUID: -6, Code: 100}, ReasonRange},
		{"респаун живым", protocol.VectorCast{CasterUID: 1, Code: CodeRespawn}, ReasonState},
		{"возврат в зоне", protocol.VectorCast{CasterUID: 1, Code: CodeOutOfBounds}, ReasonState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, v.Check(tc.rec, 0))
		})
	}

	caster.AttachBuff(entity.BuffSnare, -50)
	assert.Equal(t, ReasonStunned, v.Check(protocol.Cast{CasterUID: 1, Code: 102}, 0))
	caster.DetachBuff(-50)

	caster.Damage(1000)
	assert.Equal(t, ReasonDead, v.Check(protocol.Cast{CasterUID: 1, Code: 102}, 0))

	delete(env.units, 1)
	assert.Equal(t, ReasonNoUnit, v.Check(protocol.Cast{CasterUID: 1, Code: 102}, 0))
}

func TestStrikeWindupAndCooldown(t *testing.T) {
	env := newFakeEnv(true)
	u := env.add(1, ArchetypeWarrior, vec.Zero3)
	env.add(-5, ArchetypeDummy, vec.Vec3{X: 2})
	v := NewValidator(1, DefaultCatalog(), DefaultRules(), env)

	rec := protocol.TargetedCast{CasterUID: 1, TargetUID: -5, Code: 101}
	require.True(t, v.Validate(rec, 0))
	accepted := v.ServersideCheck(rec, 0)
	assert.Equal(t, rec, accepted)

	// Повтор в том же тике отклоняется перезарядкой
	assert.Equal(t, ReasonCooldown, v.Check(rec, 0))

	v.AddEvent(accepted)
	v.ProcessAcks(0)
	assert.Equal(t, uint32(1), u.LastEventID())
	assert.Equal(t, entity.AnimCast, u.AnimState)
	assert.Equal(t, 1, v.PendingDeferred())
	assert.Empty(t, env.emitted)

	v.ProcessAcks(ms(499))
	assert.Empty(t, env.emitted)

	v.ProcessAcks(ms(500))
	require.Len(t, env.emitted, 1)
	assert.Equal(t, protocol.CombatEffect{SourceUID: 1, TargetUID: -5, Code: 101, Value: 20}, env.emitted[0])
	assert.Equal(t, uint32(2), u.LastEventID())

	assert.Equal(t, ms(1500), v.CooldownReady(101))
	assert.True(t, v.Validate(rec, ms(1500)))
}

func TestDeferredSkipsMissingTarget(t *testing.T) {
	env := newFakeEnv(true)
	u := env.add(1, ArchetypeRanger, vec.Zero3)
	env.add(-5, ArchetypeDummy, vec.Vec3{X: 5})
	env.add(-6, ArchetypeDummy, vec.Vec3{X: 6})
	v := NewValidator(1, DefaultCatalog(), DefaultRules(), env)

	rec := protocol.MultiTargetedCast{CasterUID: 1, Code: 201, Targets: []int32{-5, -6}}
	require.True(t, v.Validate(rec, 0))
	v.AddEvent(v.ServersideCheck(rec, 0))
	v.ProcessAcks(0)

	delete(env.units, -6)
	v.ProcessAcks(ms(600))

	require.Len(t, env.emitted, 1)
	assert.Equal(t, int32(-5), env.emitted[0].(protocol.CombatEffect).TargetUID)
	// Каст + две отложенные записи
	assert.Equal(t, uint32(3), u.LastEventID())
}

func TestVolleyRejectsDuplicates(t *testing.T) {
	env := newFakeEnv(true)
	env.add(1, ArchetypeRanger, vec.Zero3)
	env.add(-5, ArchetypeDummy, vec.Vec3{X: 5})
	v := NewValidator(1, DefaultCatalog(), DefaultRules(), env)

	assert.Equal(t, ReasonTarget, v.Check(protocol.MultiTargetedCast{CasterUID: 1, Code: 201, Targets: []int32{-5, -5}}, 0))
	assert.Equal(t, ReasonTarget, v.Check(protocol.MultiTargetedCast{CasterUID: 1, Code: 201}, 0))
}

func TestRespawnScenario(t *testing.T) {
	env := newFakeEnv(true)
	u := env.add(1, ArchetypeCleric, vec.Vec3{X: 48, Z: 60})
	rules := DefaultRules()
	v := NewValidator(1, DefaultCatalog(), rules, env)

	rec := protocol.VectorCast{CasterUID: 1, Position: vec.Vec3{X: 48, Z: 60}, Orientation: vec.Quat{W: 2}, Code: CodeRespawn}
	assert.False(t, v.Validate(rec, 0), "живой юнит не может возродиться")

	u.Damage(1000)
	require.True(t, u.Dead())
	require.True(t, v.Validate(rec, 0))

	rewritten := v.ServersideCheck(rec, 0).(protocol.VectorCast)
	assert.Equal(t, vec.Vec3{X: 50, Z: 50}, rewritten.Position)
	assert.Equal(t, vec.Identity, rewritten.Orientation)

	v.AddEvent(rewritten)
	v.ProcessAcks(ms(50))
	assert.False(t, u.Dead())
	assert.Equal(t, u.MaxHealth, u.Health)
	assert.Equal(t, vec.Vec3{X: 50, Z: 50}, u.Position)
	assert.True(t, u.Attackable())
	assert.Equal(t, uint32(1), u.LastEventID())
}

func TestOutOfBoundsTeleport(t *testing.T) {
	env := newFakeEnv(true)
	u := env.add(1, ArchetypeWarrior, vec.Vec3{X: 250, Y: 10, Z: -201})
	v := NewValidator(1, DefaultCatalog(), DefaultRules(), env)

	rec := protocol.VectorCast{CasterUID: 1, Code: CodeOutOfBounds}
	require.True(t, v.Validate(rec, 0))

	rewritten := v.ServersideCheck(rec, 0).(protocol.VectorCast)
	assert.Equal(t, vec.Vec3{X: -195, Y: 10, Z: 195}, rewritten.Position)

	v.AddEvent(rewritten)
	v.ProcessAcks(0)
	assert.Equal(t, rewritten.Position, u.Position)
	assert.False(t, v.Validate(protocol.VectorCast{CasterUID: 1, Code: CodeOutOfBounds}, time.Hour))
}

func TestComboRewrite(t *testing.T) {
	run := func() []int32 {
		env := newFakeEnv(true)
		env.add(1, ArchetypeWarrior, vec.Zero3)
		env.add(-5, ArchetypeDummy, vec.Vec3{X: 1})
		v := NewValidator(1, DefaultCatalog(), DefaultRules(), env)

		var codes []int32
		for i, code := range []int32{100, 100, 101, 100} {
			now := time.Duration(i) * 2 * time.Second
			rec := protocol.TargetedCast{CasterUID: 1, TargetUID: -5, Code: code}
			require.True(t, v.Validate(rec, now), "шаг %d", i)
			out := v.ServersideCheck(rec, now)
			codes = append(codes, out.ActionCode())
			v.AddEvent(out)
			v.ProcessAcks(now)
		}
		return codes
	}

	first := run()
	assert.Equal(t, []int32{100, 100, 103, 100}, first)
	assert.Equal(t, first, run(), "комбо детерминировано")
}

func TestComboResetsRing(t *testing.T) {
	env := newFakeEnv(true)
	env.add(1, ArchetypeWarrior, vec.Zero3)
	env.add(-5, ArchetypeDummy, vec.Vec3{X: 1})
	v := NewValidator(1, DefaultCatalog(), DefaultRules(), env)

	for i, code := range []int32{100, 100, 101} {
		now := time.Duration(i) * 2 * time.Second
		v.ServersideCheck(protocol.TargetedCast{CasterUID: 1, TargetUID: -5, Code: code}, now)
	}
	assert.Equal(t, [ComboLength]int32{}, v.ComboRing())

	// Неотслеживаемые коды кольцо не сдвигают
	v.ServersideCheck(protocol.Cast{CasterUID: 1, Code: 102}, 10*time.Second)
	assert.Equal(t, [ComboLength]int32{}, v.ComboRing())
}

func TestAuraEmitsBuffAndDebuff(t *testing.T) {
	env := newFakeEnv(true)
	u := env.add(1, ArchetypeWarrior, vec.Zero3)
	v := NewValidator(1, DefaultCatalog(), DefaultRules(), env)

	rec := protocol.Cast{CasterUID: 1, Code: 102}
	v.AddEvent(v.ServersideCheck(rec, 0))
	v.ProcessAcks(0)

	require.Len(t, env.emitted, 1)
	buff := env.emitted[0].(protocol.Buff)
	assert.Equal(t, entity.BuffWard, buff.BuffType)
	assert.Equal(t, int32(1), buff.TargetUID)

	v.ProcessAcks(3 * time.Second)
	require.Len(t, env.emitted, 2)
	assert.Equal(t, protocol.Debuff{UID: buff.UID}, env.emitted[1])
	assert.Equal(t, uint32(2), u.LastEventID())
}

func TestReplicaCountsDeferredWithoutEmitting(t *testing.T) {
	env := newFakeEnv(false)
	u := env.add(1, ArchetypeRanger, vec.Zero3)
	v := NewValidator(1, DefaultCatalog(), DefaultRules(), env)

	v.AddEvent(protocol.Cast{CasterUID: 1, Code: 203})
	v.ProcessAcks(0)
	v.ProcessAcks(8 * time.Second)

	assert.Empty(t, env.emitted)
	assert.Equal(t, uint32(2), u.LastEventID())
}

func TestDelayedQueueOrder(t *testing.T) {
	var q delayedQueue
	q.schedule(ms(20), protocol.Destroy{UID: 1})
	q.schedule(ms(10), protocol.Destroy{UID: 2})
	q.schedule(ms(20), protocol.Destroy{UID: 3})
	q.schedule(ms(10), protocol.Destroy{UID: 4})

	var order []int32
	for {
		e, ok := q.popDue(ms(20))
		if !ok {
			break
		}
		order = append(order, e.record.(protocol.Destroy).UID)
	}
	assert.Equal(t, []int32{2, 4, 1, 3}, order)
}

func TestCatalogValidation(t *testing.T) {
	_, err := NewCatalog([]Ability{{Code: 1, Kind: KindStrike}}, nil, nil)
	assert.Error(t, err, "код универсального действия занят")

	_, err = NewCatalog([]Ability{{Code: 10, Kind: "fireball"}}, nil, nil)
	assert.Error(t, err)

	_, err = NewCatalog(nil, []Archetype{{ID: 1, MaxHealth: 10, Abilities: []int32{55}}}, nil)
	assert.Error(t, err)

	_, err = NewCatalog(
		[]Ability{{Code: 10, Kind: KindStrike}, {Code: 11, Kind: KindStrike}},
		nil,
		[]Combo{{Sequence: [ComboLength]int32{10, 10, 10}, Result: 11}},
	)
	assert.Error(t, err, "комбо из неотслеживаемых кодов")

	c := DefaultCatalog()
	assert.Equal(t, []int32{ArchetypeWarrior, ArchetypeRanger, ArchetypeCleric}, c.PlayableArchetypes())
	assert.False(t, c.Playable(ArchetypeDummy))
	assert.True(t, c.Heals(300))
	assert.False(t, c.Heals(100))
}

func TestLoadCatalogYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	yml := `
abilities:
  - {code: 10, name: jab, kind: strike, cooldown: 500ms, windup: 100ms, power: 5, range: 2, tracked: true}
  - {code: 11, name: hook, kind: strike, cooldown: 1s, power: 30, range: 2, combo_only: true}
archetypes:
  - {id: 1, name: boxer, max_health: 80, playable: true, abilities: [10]}
combos:
  - {sequence: [10, 10, 10], result: 11}
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	jab, ok := c.Ability(10)
	require.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, jab.Cooldown)
	assert.True(t, c.Owns(1, 10))
	assert.True(t, c.Owns(1, CodeRespawn))

	result, ok := c.MatchCombo([ComboLength]int32{10, 10, 10})
	require.True(t, ok)
	assert.Equal(t, int32(11), result)
}

func TestShippedCatalogMatchesDefault(t *testing.T) {
	c, err := LoadCatalog(filepath.Join("..", "..", "configs", "catalog.yaml"))
	require.NoError(t, err)

	def := DefaultCatalog()
	assert.Equal(t, def.abilities, c.abilities)
	assert.Equal(t, def.owned, c.owned)
	assert.Equal(t, def.combos, c.combos)
}

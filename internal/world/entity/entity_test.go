package entity

import (
	"math/rand"
	"testing"

	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateSkipsLiveUIDs(t *testing.T) {
	s := NewStore(nil)

	require.NoError(t, s.Insert(NewUnit(1, "a", 1, 100)))
	require.NoError(t, s.Insert(NewUnit(2, "b", 1, 100)))
	require.NoError(t, s.Insert(NewUnit(-1, "npc", 10, 50)))

	uid, err := s.Allocate(KindPlayer)
	require.NoError(t, err)
	assert.Equal(t, int32(3), uid)

	uid, err = s.Allocate(KindEffect)
	require.NoError(t, err)
	assert.Equal(t, int32(-2), uid)

	// Последовательные выдачи не повторяются, даже если UID ещё не вставлены
	next, err := s.Allocate(KindBuff)
	require.NoError(t, err)
	assert.Equal(t, int32(-3), next)
}

func TestAllocateUniqueUnderChurn(t *testing.T) {
	s := NewStore(nil)
	live := map[int32]bool{}

	for i := 0; i < 500; i++ {
		uid := s.MustAllocate(KindNPC)
		require.False(t, live[uid], "UID %d выдан повторно", uid)
		require.NoError(t, s.Insert(NewUnit(uid, "npc", 10, 10)))
		live[uid] = true

		// Каждый третий удаляем
		if i%3 == 0 {
			_, ok := s.Remove(uid)
			require.True(t, ok)
			delete(live, uid)
		}
	}
	assert.Equal(t, len(live), s.Len())
}

func TestInsertRejectsDuplicates(t *testing.T) {
	s := NewStore("owner")
	u := NewUnit(5, "hero", 1, 100)
	require.NoError(t, s.Insert(u))
	assert.Equal(t, "owner", u.Manager())

	err := s.Insert(NewUnit(5, "clone", 1, 100))
	assert.ErrorIs(t, err, ErrUIDInUse)

	err = s.Insert(NewUnit(0, "zero", 1, 100))
	assert.ErrorIs(t, err, ErrInvalidUID)

	removed, ok := s.Remove(5)
	require.True(t, ok)
	assert.Nil(t, removed.Manager())
}

func TestStoreTypedIteration(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Insert(NewUnit(9, "p9", 1, 100)))
	require.NoError(t, s.Insert(NewUnit(-4, "n4", 10, 100)))
	require.NoError(t, s.Insert(NewUnit(3, "p3", 1, 100)))
	require.NoError(t, s.Insert(EffectFromCreate(protocol.Create{UID: -7, CreatorUID: 3})))
	require.NoError(t, s.Insert(EffectFromCreate(protocol.Create{UID: -6, CreatorUID: 9})))
	require.NoError(t, s.Insert(BuffFromRecord(protocol.Buff{UID: -8, TargetUID: 3, BuffType: BuffWard})))

	var uids []int32
	for _, u := range s.Units() {
		uids = append(uids, u.UID())
	}
	assert.Equal(t, []int32{-4, 3, 9}, uids)
	assert.Len(t, s.Effects(), 2)
	assert.Len(t, s.Buffs(), 1)

	created := s.EffectsBy(3)
	require.Len(t, created, 1)
	assert.Equal(t, int32(-7), created[0].UID())

	_, ok := s.Unit(-7)
	assert.False(t, ok, "эффект не должен возвращаться как юнит")
}

func TestDamageAndHeal(t *testing.T) {
	u := NewUnit(1, "hero", 1, 100)
	assert.True(t, u.Attackable())
	assert.True(t, u.Targetable())

	t.Run("clamps to zero", func(t *testing.T) {
		assert.Equal(t, int32(30), u.Damage(30))
		assert.Equal(t, int32(70), u.Health)
		assert.Equal(t, int32(70), u.Damage(500))
		assert.True(t, u.Dead())
		assert.False(t, u.Attackable())
		assert.Equal(t, AnimDead, u.AnimState)
	})

	t.Run("dead refuses damage and heal", func(t *testing.T) {
		assert.Zero(t, u.Damage(10))
		assert.Zero(t, u.Heal(10))
		assert.Zero(t, u.Health)
	})

	t.Run("revive and heal clamp", func(t *testing.T) {
		u.Revive(40)
		assert.False(t, u.Dead())
		assert.True(t, u.Attackable())
		assert.Equal(t, int32(60), u.Heal(1000))
		assert.Equal(t, u.MaxHealth, u.Health)
		assert.Zero(t, u.Heal(5))
	})

	t.Run("non-positive amounts", func(t *testing.T) {
		assert.Zero(t, u.Damage(-5))
		assert.Zero(t, u.Heal(0))
	})
}

func TestBuffFlags(t *testing.T) {
	u := NewUnit(1, "hero", 1, 100)

	_, replaced := u.AttachBuff(BuffWard, -10)
	assert.False(t, replaced)
	assert.True(t, u.Invulnerable())
	assert.Zero(t, u.Damage(50))

	prev, replaced := u.AttachBuff(BuffWard, -11)
	assert.True(t, replaced)
	assert.Equal(t, int32(-10), prev)
	assert.False(t, u.DetachBuff(-10), "старый баф уже вытеснен")

	u.AttachBuff(BuffVeil, -12)
	assert.False(t, u.Targetable())
	assert.False(t, u.Attackable())

	u.AttachBuff(BuffSnare, -13)
	assert.True(t, u.Stunned())
	assert.Equal(t, []int32{-11, -13, -12}, u.BuffUIDs())

	require.True(t, u.DetachBuff(-12))
	require.True(t, u.DetachBuff(-11))
	assert.True(t, u.Targetable())
	assert.True(t, u.Attackable())
	assert.False(t, u.Invulnerable())
}

func TestFlagInvariants(t *testing.T) {
	u := NewUnit(1, "hero", 1, 10)
	ops := []func(){
		func() { u.Damage(4) },
		func() { u.AttachBuff(BuffVeil, -1) },
		func() { u.Damage(100) },
		func() { u.DetachBuff(-1) },
		func() { u.Revive(1) },
		func() { u.AttachBuff(BuffWard, -2) },
		func() { u.Damage(1) },
	}
	for i, op := range ops {
		op()
		if u.Dead() {
			assert.False(t, u.Attackable(), "шаг %d: мёртвый юнит атакуем", i)
		}
		if !u.Targetable() {
			assert.False(t, u.Attackable(), "шаг %d: невыбираемый юнит атакуем", i)
		}
	}
}

func TestApplyPoseReconciliation(t *testing.T) {
	u := NewUnit(3, "hero", 1, 100)
	u.BumpEvent()
	u.BumpEvent()
	require.Equal(t, uint32(2), u.LastEventID())

	stale := protocol.IdentifiedPose{UID: 3, Position: vec.Vec3{X: 99}, EventCounter: 1, AnimState: AnimMove}
	assert.False(t, u.ApplyPose(stale))
	assert.Equal(t, vec.Zero3, u.Position)
	assert.Equal(t, AnimIdle, u.AnimState)

	fresh := protocol.IdentifiedPose{UID: 3, Position: vec.Vec3{X: 5}, EventCounter: 2, AnimState: AnimMove}
	assert.True(t, u.ApplyPose(fresh))
	assert.Equal(t, float32(5), u.Position.X)
	assert.Equal(t, AnimMove, u.AnimState)
}

func TestSpawnRoundTrip(t *testing.T) {
	u := NewUnit(4, "cleric", 3, 90)
	u.Damage(20)
	u.Position = vec.Vec3{X: 1, Y: 2, Z: 3}
	u.BumpEvent()

	clone := UnitFromSpawn(u.Spawn())
	assert.Equal(t, u.Spawn(), clone.Spawn())
	assert.Equal(t, KindPlayer, clone.Kind())

	dead := u.Spawn()
	dead.Health = 0
	assert.True(t, UnitFromSpawn(dead).Dead())
}

func TestFollowLeashes(t *testing.T) {
	s := NewStore(nil)
	leader := NewUnit(1, "leader", 1, 100)
	leader.Position = vec.Vec3{X: 10, Z: 10}
	pet := NewUnit(-1, "pet", 10, 50)
	pet.LeashedBy = 1
	pet.LeashOffset = vec.Vec3{X: -1}
	require.NoError(t, s.Insert(leader))
	require.NoError(t, s.Insert(pet))

	moved := s.FollowLeashes()
	require.Len(t, moved, 1)
	assert.Equal(t, vec.Vec3{X: 9, Z: 10}, pet.Position)

	s.Remove(1)
	assert.Empty(t, s.FollowLeashes())
	assert.Zero(t, pet.LeashedBy)
}

func TestWandererMovesAndStops(t *testing.T) {
	u := NewUnit(-1, "dummy", 10, 50)
	params := WanderParams{Speed: 4, Radius: 5, IdleTimeRange: [2]float64{0.1, 0.1}, MoveTimeRange: [2]float64{2, 2}}
	w := NewWanderer(params, vec.Zero3, rand.New(rand.NewSource(1)))

	moved := false
	for i := 0; i < 40; i++ {
		if w.Update(u, 0.05) && u.Velocity != vec.Zero3 {
			moved = true
		}
		assert.LessOrEqual(t, u.Position.Length(), params.Radius+0.5)
	}
	assert.True(t, moved)

	u.Damage(1000)
	w.Update(u, 0.05)
	assert.Equal(t, vec.Zero3, u.Velocity)
}

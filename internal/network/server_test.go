package network_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/arena-sync/internal/ability"
	"github.com/annel0/arena-sync/internal/client"
	"github.com/annel0/arena-sync/internal/config"
	"github.com/annel0/arena-sync/internal/game"
	"github.com/annel0/arena-sync/internal/network"
	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/storage"
)

const waitFor = 3 * time.Second

type batchRecorder struct {
	mu      sync.Mutex
	batches []network.Batch
}

func (r *batchRecorder) ConsumeBatch(_ context.Context, b network.Batch) error {
	r.mu.Lock()
	r.batches = append(r.batches, b)
	r.mu.Unlock()
	return nil
}

func (r *batchRecorder) kinds() map[protocol.Kind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[protocol.Kind]int)
	for _, b := range r.batches {
		for _, rec := range b.Records {
			out[rec.Kind()]++
		}
	}
	return out
}

type harness struct {
	srv       *network.Server
	positions *storage.MemoryPositionRepo
	sink      *batchRecorder
}

func startServer(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default().Server
	cfg.Host = "127.0.0.1"
	cfg.TCPPort = 0
	cfg.UDPPort = 0
	cfg.TickHz = 50
	cfg.AutosaveEvery = 0

	manager := game.NewEventManager(game.Options{
		Role:    game.RoleAuthority,
		Catalog: ability.DefaultCatalog(),
		Rules:   ability.DefaultRules(),
		Seed:    1,
	})
	h := &harness{positions: storage.NewMemoryPositionRepo(), sink: &batchRecorder{}}
	srv, err := network.NewServer(network.Options{
		Config:    cfg,
		Manager:   manager,
		Positions: h.positions,
		Sinks:     []network.BatchSink{h.sink},
	})
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Stop)
	h.srv = srv
	return h
}

func (h *harness) connect(t *testing.T, uid, archetype int32) (*client.Client, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	c, err := client.Connect(ctx, client.Config{
		Addr:      h.srv.Addr().String(),
		UID:       uid,
		Archetype: archetype,
		TickHz:    50,
		Catalog:   ability.DefaultCatalog(),
		Rules:     ability.DefaultRules(),
	})
	if err == nil {
		t.Cleanup(func() { c.Close() })
	}
	return c, err
}

func sees(c *client.Client, uid int32) bool {
	v := c.View()
	if v == nil {
		return false
	}
	for _, u := range v.Units {
		if u.UID == uid {
			return true
		}
	}
	return false
}

func TestClientsSeeEachOther(t *testing.T) {
	h := startServer(t)

	c1, err := h.connect(t, 1, ability.ArchetypeWarrior)
	require.NoError(t, err)
	c2, err := h.connect(t, 2, ability.ArchetypeRanger)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return sees(c1, 2) && sees(c2, 1) }, waitFor, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return h.srv.Stats().Sessions == 2 }, waitFor, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return h.sink.kinds()[protocol.KindSpawn] >= 2 }, waitFor, 10*time.Millisecond)
}

func TestHandshakeRejections(t *testing.T) {
	h := startServer(t)

	_, err := h.connect(t, 1, ability.ArchetypeWarrior)
	require.NoError(t, err)

	_, err = h.connect(t, 1, ability.ArchetypeCleric)
	assert.ErrorIs(t, err, protocol.ErrRejected, "duplicate uid")

	_, err = h.connect(t, 0, ability.ArchetypeWarrior)
	assert.ErrorIs(t, err, protocol.ErrRejected, "zero uid")

	_, err = h.connect(t, 3, ability.ArchetypeDummy)
	assert.ErrorIs(t, err, protocol.ErrRejected, "not playable")

	// отказ не занимает UID
	_, err = h.connect(t, 3, ability.ArchetypeWarrior)
	assert.NoError(t, err)
}

func TestCastIsAcknowledgedAndReplicated(t *testing.T) {
	h := startServer(t)
	ctx := context.Background()

	c1, err := h.connect(t, 1, ability.ArchetypeWarrior)
	require.NoError(t, err)
	c2, err := h.connect(t, 2, ability.ArchetypeWarrior)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sees(c2, 1) }, waitFor, 10*time.Millisecond)

	ward := protocol.Cast{CasterUID: 1, Code: 102}
	require.NoError(t, c1.Cast(ctx, ward))

	// пока действие не подтверждено, второе не уходит; после подтверждения мешает перезарядка
	err = c1.Cast(ctx, ward)
	assert.True(t, errors.Is(err, client.ErrBusy) || errors.Is(err, client.ErrInvalid), "got %v", err)

	assert.Eventually(t, func() bool {
		_, pending, err := c1.Pending(ctx)
		return err == nil && !pending
	}, waitFor, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		u, ok := c2.Manager().UnitView(1)
		return ok && len(u.Buffs) > 0
	}, waitFor, 10*time.Millisecond)

	assert.ErrorIs(t, c1.Cast(ctx, ward), client.ErrInvalid)
	assert.Eventually(t, func() bool { return h.sink.kinds()[protocol.KindBuff] >= 1 }, waitFor, 10*time.Millisecond)
}

func TestDisconnectDespawnsAndSavesPosition(t *testing.T) {
	h := startServer(t)

	c1, err := h.connect(t, 1, ability.ArchetypeWarrior)
	require.NoError(t, err)
	c2, err := h.connect(t, 2, ability.ArchetypeWarrior)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sees(c2, 1) }, waitFor, 10*time.Millisecond)

	require.NoError(t, c1.Close())

	assert.Eventually(t, func() bool { return !sees(c2, 1) }, waitFor, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, ok, err := h.positions.Load(context.Background(), 1)
		return err == nil && ok
	}, waitFor, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return h.srv.Stats().Claimed == 1 }, waitFor, 10*time.Millisecond)

	// UID освобождён и может подключиться снова
	_, err = h.connect(t, 1, ability.ArchetypeWarrior)
	assert.NoError(t, err)
}

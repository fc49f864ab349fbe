package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/arena-sync/internal/network"
	"github.com/annel0/arena-sync/internal/protocol"
)

type collector struct {
	mu     sync.Mutex
	events []*Envelope
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) snapshot() []*Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Envelope(nil), c.events...)
}

func TestMemoryBusDeliversInOrder(t *testing.T) {
	bus := NewMemoryBus(4)
	var c collector
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{TypeBatch}}, c.handle)
	require.NoError(t, err)

	pub := NewBatchPublisher(bus, "node-1")
	for tick := uint64(1); tick <= 20; tick++ {
		b := network.Batch{Tick: tick, At: time.Now(), Records: []protocol.Record{protocol.Despawn{UID: int32(tick)}}}
		require.NoError(t, pub.ConsumeBatch(context.Background(), b))
	}
	require.NoError(t, bus.Publish(context.Background(), &Envelope{ID: "x", EventType: "other"}))
	require.NoError(t, bus.Close())

	events := c.snapshot()
	require.Len(t, events, 20)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Tick)
		assert.Equal(t, "node-1", ev.Source)
		records, err := DecodeBatch(ev)
		require.NoError(t, err)
		assert.Equal(t, []protocol.Record{protocol.Despawn{UID: int32(i + 1)}}, records)
	}

	stats := bus.Metrics()
	assert.Equal(t, uint64(21), stats.Published)
	assert.Equal(t, uint64(20), stats.Consumed)
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus(1)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), &Envelope{}), ErrBusClosed)
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(8)
	var c collector
	sub, err := bus.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), &Envelope{ID: "a", EventType: TypeBatch}))
	require.NoError(t, bus.Close())
	assert.Empty(t, c.snapshot())
}

func TestDecodeBatchRejectsMismatch(t *testing.T) {
	ev := NewBatchEnvelope("n", network.Batch{Tick: 1, Records: []protocol.Record{protocol.Cast{CasterUID: 1, Code: 100}}})
	ev.Count = 2
	_, err := DecodeBatch(ev)
	assert.Error(t, err)

	ev.EventType = "other"
	_, err = DecodeBatch(ev)
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	got := summarize([]protocol.Record{
		protocol.Cast{CasterUID: 1, Code: 100},
		protocol.Despawn{UID: 3},
		protocol.Cast{CasterUID: 2, Code: 100},
	})
	assert.Equal(t, protocol.KindCast.String()+"×2 "+protocol.KindDespawn.String()+"×1", got)
}

func TestMetricsExporterCollect(t *testing.T) {
	bus := NewMemoryBus(8)
	reg := prometheus.NewRegistry()
	me := NewMetricsExporter(bus, reg)

	require.NoError(t, bus.Publish(context.Background(), &Envelope{ID: "a"}))
	require.NoError(t, bus.Publish(context.Background(), &Envelope{ID: "b"}))
	require.NoError(t, bus.Close())

	prev := me.collect(Stats{})
	assert.Equal(t, 2.0, counterValue(t, reg, "eventbus_messages_published_total"))
	me.collect(prev)
	assert.Equal(t, 2.0, counterValue(t, reg, "eventbus_messages_published_total"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			require.Len(t, mf.GetMetric(), 1)
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

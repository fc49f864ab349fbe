package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/arena-sync/internal/network"
	"github.com/annel0/arena-sync/internal/protocol"
)

func testBatch(tick uint64, records ...protocol.Record) network.Batch {
	return network.Batch{Tick: tick, At: time.Unix(1700000000, int64(tick)), Records: records}
}

func TestJournalRange(t *testing.T) {
	j, err := OpenJournal(JournalOptions{InMemory: true})
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	require.NoError(t, j.ConsumeBatch(ctx, testBatch(3, protocol.Cast{CasterUID: 1, Code: 100})))
	require.NoError(t, j.ConsumeBatch(ctx, testBatch(4,
		protocol.Buff{UID: 9, CasterUID: 1, TargetUID: 2, BuffType: 102},
		protocol.Despawn{UID: 2},
	)))
	require.NoError(t, j.ConsumeBatch(ctx, testBatch(9, protocol.Noop{SourceUID: 5})))
	assert.Equal(t, uint64(3), j.Last())

	all, err := j.Range(0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(1), all[0].Seq)
	assert.Equal(t, uint64(3), all[0].Tick)
	assert.Equal(t, []protocol.Record{protocol.Cast{CasterUID: 1, Code: 100}}, all[0].Records)
	assert.Equal(t, time.Unix(1700000000, 4).UnixNano(), all[1].At.UnixNano())
	assert.Len(t, all[1].Records, 2)
	assert.Equal(t, uint64(9), all[2].Tick)

	tail, err := j.Range(2, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(2), tail[0].Seq)

	none, err := j.Range(10, 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestJournalContinuesNumberingAfterReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j, err := OpenJournal(JournalOptions{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, j.ConsumeBatch(ctx, testBatch(1, protocol.Despawn{UID: 1})))
	require.NoError(t, j.ConsumeBatch(ctx, testBatch(2, protocol.Despawn{UID: 2})))
	require.NoError(t, j.Close())

	j, err = OpenJournal(JournalOptions{Dir: dir})
	require.NoError(t, err)
	defer j.Close()
	assert.Equal(t, uint64(2), j.Last())

	// счётчик тиков нового запуска начинается заново, номер записи нет
	require.NoError(t, j.ConsumeBatch(ctx, testBatch(1, protocol.Despawn{UID: 3})))
	entries, err := j.Range(3, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(1), entries[0].Tick)
	assert.Equal(t, []protocol.Record{protocol.Despawn{UID: 3}}, entries[0].Records)
}

func TestJournalClosed(t *testing.T) {
	j, err := OpenJournal(JournalOptions{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	assert.ErrorIs(t, j.ConsumeBatch(context.Background(), testBatch(1, protocol.Despawn{UID: 1})), ErrJournalClosed)
	_, err = j.Range(1, 1)
	assert.ErrorIs(t, err, ErrJournalClosed)
}

func TestJournalCanceledContext(t *testing.T) {
	j, err := OpenJournal(JournalOptions{InMemory: true})
	require.NoError(t, err)
	defer j.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, j.ConsumeBatch(ctx, testBatch(1, protocol.Despawn{UID: 1})), context.Canceled)
	assert.Zero(t, j.Last())
}

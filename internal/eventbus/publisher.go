package eventbus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/annel0/arena-sync/internal/network"
	"github.com/annel0/arena-sync/internal/protocol"
)

// BatchPublisher публикует пакеты тиков сервера в шину.
// Реализует network.BatchSink.
type BatchPublisher struct {
	bus    EventBus
	source string
}

// NewBatchPublisher создаёт публикатора; source попадает в Envelope.Source
func NewBatchPublisher(bus EventBus, source string) *BatchPublisher {
	return &BatchPublisher{bus: bus, source: source}
}

// ConsumeBatch оборачивает пакет в Envelope и публикует его
func (p *BatchPublisher) ConsumeBatch(ctx context.Context, b network.Batch) error {
	return p.bus.Publish(ctx, NewBatchEnvelope(p.source, b))
}

// NewBatchEnvelope кодирует записи пакета в формат надёжного канала
func NewBatchEnvelope(source string, b network.Batch) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: b.At.UTC(),
		Source:    source,
		EventType: TypeBatch,
		Tick:      b.Tick,
		Count:     len(b.Records),
		Payload:   protocol.EncodeAll(b.Records),
		Metadata:  map[string]string{"tick": strconv.FormatUint(b.Tick, 10)},
	}
}

// DecodeBatch восстанавливает записи из события пакета
func DecodeBatch(ev *Envelope) ([]protocol.Record, error) {
	if ev.EventType != TypeBatch {
		return nil, fmt.Errorf("eventbus: event %s is %q, not a batch", ev.ID, ev.EventType)
	}
	records, err := protocol.DecodeAll(ev.Payload)
	if err != nil {
		return nil, err
	}
	if len(records) != ev.Count {
		return nil, fmt.Errorf("eventbus: event %s: %d records, header says %d", ev.ID, len(records), ev.Count)
	}
	return records, nil
}

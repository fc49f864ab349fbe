package eventbus

import (
	"context"
	"strconv"
	"strings"

	"github.com/annel0/arena-sync/internal/logging"
	"github.com/annel0/arena-sync/internal/protocol"
)

// StartLoggingListener подписывается на пакеты тиков и пишет их состав в лог уровня DEBUG.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	logger := logging.GetComponentLogger("eventbus")
	sub, err := bus.Subscribe(context.Background(), Filter{Types: []string{TypeBatch}}, func(ctx context.Context, ev *Envelope) {
		records, err := DecodeBatch(ev)
		if err != nil {
			logger.Warn("⚠️ Пакет %s не разобран: %v", ev.ID, err)
			return
		}
		logger.Debug("[EventBus] тик %d src=%s: %s", ev.Tick, ev.Source, summarize(records))
	})
	if err != nil {
		return nil, err
	}
	logger.Info("🪵 LoggingListener: подписка на пакеты тиков активирована")
	return sub, nil
}

// summarize "Cast×2 Buff×1" в порядке первого появления вида записи
func summarize(records []protocol.Record) string {
	counts := make(map[protocol.Kind]int)
	var order []protocol.Kind
	for _, r := range records {
		k := r.Kind()
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}
	var b strings.Builder
	for i, k := range order {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k.String())
		b.WriteString("×")
		b.WriteString(strconv.Itoa(counts[k]))
	}
	return b.String()
}

package ability

import (
	"container/heap"
	"time"

	"github.com/annel0/arena-sync/internal/protocol"
)

// delayedEntry отложенная запись с абсолютным временем срабатывания
type delayedEntry struct {
	at     time.Duration
	seq    uint64
	record protocol.Record
}

// delayedQueue мин-куча по (at, seq): при равном времени порядок вставки сохраняется
type delayedQueue struct {
	items []delayedEntry
	seq   uint64
}

func (q *delayedQueue) Len() int { return len(q.items) }

func (q *delayedQueue) Less(i, j int) bool {
	if q.items[i].at != q.items[j].at {
		return q.items[i].at < q.items[j].at
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *delayedQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *delayedQueue) Push(x any) { q.items = append(q.items, x.(delayedEntry)) }

func (q *delayedQueue) Pop() any {
	last := len(q.items) - 1
	e := q.items[last]
	q.items[last] = delayedEntry{}
	q.items = q.items[:last]
	return e
}

// schedule добавляет запись на момент at
func (q *delayedQueue) schedule(at time.Duration, rec protocol.Record) {
	q.seq++
	heap.Push(q, delayedEntry{at: at, seq: q.seq, record: rec})
}

// popDue извлекает самую раннюю запись, если её время наступило
func (q *delayedQueue) popDue(now time.Duration) (delayedEntry, bool) {
	if len(q.items) == 0 || q.items[0].at > now {
		return delayedEntry{}, false
	}
	return heap.Pop(q).(delayedEntry), true
}

// next время ближайшей записи
func (q *delayedQueue) next() (time.Duration, bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0].at, true
}

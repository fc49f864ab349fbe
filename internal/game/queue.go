package game

import "sync"

// Queue потокобезопасная FIFO-очередь: много производителей, один потребитель (поток тика)
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// Push добавляет элемент в конец очереди
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

// Drain забирает все накопленные элементы в порядке добавления
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

// Len текущая длина очереди
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

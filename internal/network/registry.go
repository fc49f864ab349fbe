package network

import "sync"

// Claims реестр UID, занятых живыми или подключающимися игроками.
// Рукопожатие занимает UID до появления юнита, поток тика освобождает его после Despawn.
type Claims struct {
	mu  sync.Mutex
	ids map[int32]struct{}
	max int
}

// NewClaims создаёт реестр; max ограничивает число одновременных игроков (0 без ограничения)
func NewClaims(max int) *Claims {
	return &Claims{ids: make(map[int32]struct{}), max: max}
}

// Claim занимает uid; false если он уже занят или достигнут предел
func (c *Claims) Claim(uid int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.ids[uid]; taken {
		return false
	}
	if c.max > 0 && len(c.ids) >= c.max {
		return false
	}
	c.ids[uid] = struct{}{}
	return true
}

// Release освобождает uid
func (c *Claims) Release(uid int32) {
	c.mu.Lock()
	delete(c.ids, uid)
	c.mu.Unlock()
}

// Len количество занятых UID
func (c *Claims) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

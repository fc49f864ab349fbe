// Package entity хранит авторитетное (или реплицированное) состояние игровых объектов:
// юнитов, эффектов и бафов. Все мутации выполняет только поток тика.
package entity

import "fmt"

// Kind представляет тип сущности
type Kind uint8

const (
	KindPlayer Kind = iota + 1 // Юнит под управлением игрока (UID > 0)
	KindNPC                    // Юнит под управлением сервера (UID < 0)
	KindEffect                 // Временный объект мира
	KindBuff                   // Баф на юните
)

func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindNPC:
		return "npc"
	case KindEffect:
		return "effect"
	case KindBuff:
		return "buff"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ServerSpawned сообщает, выдаёт ли сервер UID из отрицательного диапазона
func (k Kind) ServerSpawned() bool {
	return k != KindPlayer
}

// Entity базовая идентичность объекта мира
type Entity interface {
	UID() int32
	Name() string
	Kind() Kind
	// Handle непрозрачный объект слоя отображения
	Handle() any
	SetHandle(h any)
	// Manager владелец хранилища, в которое вставлена сущность
	Manager() any
}

type base struct {
	uid     int32
	name    string
	kind    Kind
	handle  any
	manager any
}

func (b *base) UID() int32       { return b.uid }
func (b *base) Name() string     { return b.name }
func (b *base) Kind() Kind       { return b.kind }
func (b *base) Handle() any      { return b.handle }
func (b *base) SetHandle(h any)  { b.handle = h }
func (b *base) Manager() any     { return b.manager }
func (b *base) setManager(m any) { b.manager = m }

type managed interface {
	setManager(m any)
}

// Package client реализует сторону реплики: рукопожатие с сервером, приём пакетов
// и поз, отправку собственных поз и действий с проверкой "одно действие в полёте".
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/arena-sync/internal/ability"
	"github.com/annel0/arena-sync/internal/game"
	"github.com/annel0/arena-sync/internal/logging"
	"github.com/annel0/arena-sync/internal/network"
	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/vec"
)

// Ошибки клиента
var (
	ErrBusy       = errors.New("client: previous action still awaiting ack")
	ErrInvalid    = errors.New("client: action failed local validation")
	ErrNoUnit     = errors.New("client: local unit not spawned")
	ErrClosed     = errors.New("client: connection closed")
	ErrBadSpawn   = errors.New("client: unexpected spawn record")
	ErrUDPRefused = errors.New("client: server could not confirm udp path")
)

// Config параметры подключения
type Config struct {
	Transport        string
	Addr             string // адрес надёжного канала host:port
	UID              int32
	Archetype        int32
	TickHz           int
	KeepAlive        time.Duration
	HandshakeTimeout time.Duration
	Catalog          *ability.Catalog
	Rules            *ability.Rules
	Presenter        game.Presenter
}

func (c *Config) defaults() {
	if c.Transport == "" {
		c.Transport = network.TransportTCP
	}
	if c.TickHz <= 0 {
		c.TickHz = 20
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 2 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 3 * time.Second
	}
}

// Client подключённая реплика
type Client struct {
	cfg     Config
	conn    net.Conn
	reader  *protocol.Reader
	udp     *net.UDPConn
	manager *game.EventManager
	spawn   protocol.Spawn
	logger  *logging.Logger

	wmu      sync.Mutex
	writer   *protocol.Writer
	lastSent atomic.Int64

	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// Connect подключается к серверу, проходит рукопожатие и запускает циклы реплики
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg.defaults()

	conn, err := network.Dial(ctx, cfg.Transport, cfg.Addr)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		conn:    conn,
		writer:  protocol.NewWriter(conn),
		logger:  logging.GetComponentLogger("client"),
		started: time.Now(),
	}
	if err := c.handshake(ctx); err != nil {
		conn.Close()
		if c.udp != nil {
			c.udp.Close()
		}
		return nil, err
	}

	c.manager = game.NewEventManager(game.Options{
		Role:      game.RoleReplica,
		Catalog:   cfg.Catalog,
		Rules:     cfg.Rules,
		LocalUID:  cfg.UID,
		Presenter: cfg.Presenter,
	})
	c.manager.Receive(c.spawn)
	c.manager.Step(c.now())

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.wg.Add(3)
	go c.readLoop()
	go c.udpLoop()
	go c.tickLoop()

	c.logger.Info("🎮 Игрок %d подключён к %s", cfg.UID, cfg.Addr)
	return c, nil
}

// handshake клиентская сторона рукопожатия
func (c *Client) handshake(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}
	br := bufio.NewReader(c.conn)

	if err := protocol.WriteToken(c.conn, protocol.TokenOK); err != nil {
		return err
	}
	if err := protocol.WriteInt32(c.conn, c.cfg.UID); err != nil {
		return err
	}
	if err := protocol.WriteInt32(c.conn, c.cfg.Archetype); err != nil {
		return err
	}

	port, err := protocol.ReadReply(br)
	if err != nil {
		return fmt.Errorf("ожидался UDP порт: %w", err)
	}
	if err := protocol.WriteToken(c.conn, protocol.TokenOK); err != nil {
		return err
	}

	c.reader = protocol.NewReader(br)
	rec, err := c.reader.ReadRecord()
	if err != nil {
		return fmt.Errorf("ожидалась запись Spawn: %w", err)
	}
	spawn, ok := rec.(protocol.Spawn)
	if !ok || spawn.UID != c.cfg.UID {
		return fmt.Errorf("%w: %T", ErrBadSpawn, rec)
	}
	c.spawn = spawn

	host, _, err := net.SplitHostPort(c.cfg.Addr)
	if err != nil {
		return err
	}
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return err
	}
	c.udp, err = net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}
	if err := protocol.WriteToken(c.conn, protocol.TokenOK); err != nil {
		return err
	}

	hello := protocol.EncodeHello(c.cfg.UID)
	for {
		if _, err := c.udp.Write(hello); err != nil {
			return err
		}
		tok, err := protocol.ReadToken(br)
		if err != nil {
			return err
		}
		switch tok {
		case protocol.TokenOK:
			return c.conn.SetDeadline(time.Time{})
		case protocol.TokenRetry:
			c.logger.Debug("UDP проба не дошла, повторяем")
		case protocol.TokenNOK:
			return ErrUDPRefused
		default:
			return fmt.Errorf("%w: неожиданный токен %q", protocol.ErrMalformed, tok)
		}
	}
}

func (c *Client) now() time.Duration { return time.Since(c.started) }

// UID игрок клиента
func (c *Client) UID() int32 { return c.cfg.UID }

// Manager менеджер событий реплики
func (c *Client) Manager() *game.EventManager { return c.manager }

// View последнее опубликованное состояние реплики
func (c *Client) View() *game.View { return c.manager.View() }

// Done закрывается после остановки клиента
func (c *Client) Done() <-chan struct{} { return c.ctx.Done() }

// Err причина остановки
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close отключается от сервера
func (c *Client) Close() error {
	c.fail(ErrClosed)
	c.wg.Wait()
	return nil
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.cancel()
	c.conn.Close()
	c.udp.Close()
}

// call выполняет fn в потоке тика реплики и ждёт результата
func (c *Client) call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	c.manager.Do(func() { done <- fn() })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// Cast проверяет действие локально и отправляет его на сервер.
// Пока предыдущее действие не подтверждено (запись или Noop), возвращает ErrBusy.
func (c *Client) Cast(ctx context.Context, rec protocol.CastRecord) error {
	return c.call(ctx, func() error {
		v, ok := c.manager.Validator(c.cfg.UID)
		if !ok {
			return ErrNoUnit
		}
		if !v.IsClear() {
			return ErrBusy
		}
		if reason := v.Check(rec, c.now()); reason != ability.ReasonOK {
			return fmt.Errorf("%w: %s", ErrInvalid, reason)
		}
		if err := c.send(rec); err != nil {
			return err
		}
		v.SetPending(rec.ActionCode())
		return nil
	})
}

// Pending код действия, ожидающего подтверждения. Потокобезопасен.
func (c *Client) Pending(ctx context.Context) (int32, bool, error) {
	type state struct {
		code int32
		ok   bool
	}
	result := make(chan state, 1)
	err := c.call(ctx, func() error {
		var st state
		if v, ok := c.manager.Validator(c.cfg.UID); ok {
			st.code, st.ok = v.Pending()
		}
		result <- st
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	st := <-result
	return st.code, st.ok, nil
}

// Move перемещает свой юнит; сервер узнает о новой позе из ближайшей датаграммы
func (c *Client) Move(ctx context.Context, position vec.Vec3, orientation vec.Quat) error {
	return c.call(ctx, func() error {
		u, ok := c.manager.Unit(c.cfg.UID)
		if !ok {
			return ErrNoUnit
		}
		if u.Dead() {
			return fmt.Errorf("%w: %s", ErrInvalid, ability.ReasonDead)
		}
		u.Velocity = position.Sub(u.Position)
		u.Position = position
		u.Orientation = orientation.Normalized()
		return nil
	})
}

func (c *Client) send(records ...protocol.Record) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.KeepAlive))
	if err := c.writer.WriteRecords(records...); err != nil {
		return err
	}
	c.lastSent.Store(time.Now().UnixNano())
	return nil
}

// readLoop принимает пакеты сервера
func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		rec, err := c.reader.ReadRecord()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("⚠️ Чтение надёжного канала: %v", err)
			}
			c.fail(err)
			return
		}
		c.manager.Receive(rec)
	}
}

// udpLoop принимает датаграммы поз
func (c *Client) udpLoop() {
	defer c.wg.Done()
	buf := make([]byte, 2048)
	for {
		n, err := c.udp.Read(buf)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Trace("UDP: %v", err)
			continue
		}
		d, err := protocol.DecodePoseDatagram(buf[:n])
		if err != nil {
			c.logger.Debug("UDP: повреждённая датаграмма: %v", err)
			continue
		}
		c.manager.ReceivePoses(d)
	}
}

// tickLoop шаг реплики, отправка собственной позы и поддержание соединения
func (c *Client) tickLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Second / time.Duration(c.cfg.TickHz))
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.manager.Step(c.now())
			c.sendPose()

			idle := time.Since(time.Unix(0, c.lastSent.Load()))
			if idle >= c.cfg.KeepAlive {
				if err := c.send(protocol.Noop{SourceUID: c.cfg.UID}); err != nil {
					c.fail(err)
					return
				}
			}
		}
	}
}

// sendPose отправляет позу своего юнита; вызывается из потока тика
func (c *Client) sendPose() {
	u, ok := c.manager.Unit(c.cfg.UID)
	if !ok || u.Dead() {
		return
	}
	d := protocol.PoseDatagram{Units: []protocol.IdentifiedPose{u.Pose()}}
	buf, err := protocol.AppendPoseDatagram(make([]byte, 0, d.Size()), d)
	if err != nil {
		return
	}
	if _, err := c.udp.Write(buf); err != nil {
		c.logger.Trace("UDP: отправка позы: %v", err)
	}
}

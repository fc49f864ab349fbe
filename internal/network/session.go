package network

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/arena-sync/internal/logging"
	"github.com/annel0/arena-sync/internal/protocol"
)

// Причины закрытия сессии (метка метрики disconnects_total)
const (
	ReasonClosed       = "closed"
	ReasonTimeout      = "timeout"
	ReasonProtocol     = "protocol"
	ReasonWrite        = "write"
	ReasonBackpressure = "backpressure"
	ReasonShutdown     = "shutdown"
)

// outboundQueue сколько тиков может накопиться в очереди отправки сессии
const outboundQueue = 64

// Submitter принимает записи игрока для ближайшего тика
type Submitter interface {
	Submit(from int32, rec protocol.Record)
}

// Session установленное соединение игрока после рукопожатия
type Session struct {
	id        uuid.UUID
	uid       int32
	archetype int32
	spawn     protocol.Spawn
	conn      net.Conn
	reader    *protocol.Reader
	udp       *UDPServer
	logger    *logging.Logger

	out       chan Outbound
	done      chan struct{}
	closeOnce sync.Once
	reason    string
}

func newSession(conn net.Conn, reader *protocol.Reader, udp *UDPServer, uid, archetype int32, spawn protocol.Spawn) *Session {
	return &Session{
		id:        uuid.New(),
		uid:       uid,
		archetype: archetype,
		spawn:     spawn,
		conn:      conn,
		reader:    reader,
		udp:       udp,
		logger:    logging.GetNetworkLogger(),
		out:       make(chan Outbound, outboundQueue),
		done:      make(chan struct{}),
	}
}

// ID идентификатор сессии для логов
func (s *Session) ID() uuid.UUID { return s.id }

// UID игрок сессии
func (s *Session) UID() int32 { return s.uid }

// Spawn запись появления, отправленная в рукопожатии
func (s *Session) Spawn() protocol.Spawn { return s.spawn }

// Deliver ставит данные тика в очередь отправки.
// Не блокирует поток тика: переполненная очередь закрывает сессию.
func (s *Session) Deliver(out Outbound) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.out <- out:
	default:
		s.logger.Warn("⚠️ Сессия %d не успевает принимать данные, отключаем", s.uid)
		s.Close(ReasonBackpressure)
	}
}

// Close закрывает соединение; первая причина сохраняется
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.done)
		s.conn.Close()
	})
}

// Done закрывается вместе с сессией
func (s *Session) Done() <-chan struct{} { return s.done }

// Reason причина закрытия; пустая строка пока сессия жива
func (s *Session) Reason() string {
	select {
	case <-s.done:
		return s.reason
	default:
		return ""
	}
}

// run обслуживает сессию до её закрытия: чтение надёжного канала и отправку.
// Возвращается после закрытия соединения.
func (s *Session) run(sub Submitter, inactivity time.Duration) {
	go s.writeLoop()
	s.Close(s.readLoop(sub, inactivity))
}

// readLoop читает записи игрока; отсутствие трафика дольше inactivity считается отключением
func (s *Session) readLoop(sub Submitter, inactivity time.Duration) string {
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(inactivity)); err != nil {
			return ReasonClosed
		}
		rec, err := s.reader.ReadRecord()
		if err != nil {
			return s.classify(err)
		}
		logging.LogRecord(s.id.String(), "IN", rec.Kind(), nil)
		sub.Submit(s.uid, rec)
	}
}

func (s *Session) classify(err error) string {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		s.logger.Info("⏱️ Игрок %d: нет трафика, отключаем", s.uid)
		return ReasonTimeout
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return ReasonClosed
	case errors.Is(err, protocol.ErrMalformed), errors.Is(err, protocol.ErrUnknownKind),
		errors.Is(err, protocol.ErrTruncated), errors.Is(err, io.ErrUnexpectedEOF):
		s.logger.Warn("⚠️ Игрок %d: ошибка протокола: %v", s.uid, err)
		return ReasonProtocol
	default:
		s.logger.Debug("Игрок %d: чтение завершено: %v", s.uid, err)
		return ReasonClosed
	}
}

// writeLoop отправляет накопленные данные тиков: надёжные байты в поток, позы датаграммой
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case out := <-s.out:
			if len(out.Reliable) > 0 {
				s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if _, err := s.conn.Write(out.Reliable); err != nil {
					s.logger.Debug("Игрок %d: ошибка записи: %v", s.uid, err)
					s.Close(ReasonWrite)
					return
				}
			}
			if len(out.Pose) > 0 {
				if err := s.udp.SendTo(s.uid, out.Pose); err != nil {
					s.logger.Trace("Игрок %d: ошибка отправки UDP: %v", s.uid, err)
				}
			}
		}
	}
}

const writeTimeout = 5 * time.Second

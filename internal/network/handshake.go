package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/vec"
)

// Ошибки рукопожатия
var (
	ErrInvalidUID       = errors.New("handshake: invalid player uid")
	ErrUIDTaken         = errors.New("handshake: uid already bound")
	ErrNotPlayable      = errors.New("handshake: archetype is not playable")
	ErrUDPProbeFailed   = errors.New("handshake: udp path not confirmed")
	ErrHandshakeTimeout = errors.New("handshake: timed out")
)

// handshake проводит рукопожатие на только что принятом соединении.
// Весь обмен ограничен одним дедлайном; при ошибке состояние мира не меняется,
// а занятый UID освобождается.
func (s *Server) handshake(conn net.Conn) (sess *Session, err error) {
	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	br := bufio.NewReader(conn)

	// 1. Подтверждение версии протокола
	if err := protocol.ExpectToken(br, protocol.TokenOK); err != nil {
		return nil, s.handshakeErr(err)
	}

	// 2. UID игрока
	uid, err := protocol.ReadInt32(br)
	if err != nil {
		return nil, s.handshakeErr(err)
	}
	if uid <= 0 {
		protocol.WriteToken(conn, protocol.TokenNOK)
		return nil, fmt.Errorf("%w: %d", ErrInvalidUID, uid)
	}
	if !s.claims.Claim(uid) {
		protocol.WriteToken(conn, protocol.TokenNOK)
		return nil, fmt.Errorf("%w: %d", ErrUIDTaken, uid)
	}
	defer func() {
		if err != nil {
			s.udp.Cancel(uid)
			s.claims.Release(uid)
		}
	}()

	// 3. Архетип
	archetype, err := protocol.ReadInt32(br)
	if err != nil {
		return nil, s.handshakeErr(err)
	}
	if !s.catalog.Playable(archetype) {
		protocol.WriteToken(conn, protocol.TokenNOK)
		return nil, fmt.Errorf("%w: %d", ErrNotPlayable, archetype)
	}

	// 4. UDP порт
	if err := protocol.WriteInt32(conn, int32(s.udp.Port())); err != nil {
		return nil, s.handshakeErr(err)
	}
	if err := protocol.ExpectToken(br, protocol.TokenOK); err != nil {
		return nil, s.handshakeErr(err)
	}

	// 5. Запись появления
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	spawn := s.spawnFor(ctx, uid, archetype)
	cancel()
	if err := protocol.NewWriter(conn).WriteRecords(spawn); err != nil {
		return nil, s.handshakeErr(err)
	}

	// 6. Клиент привязал UDP сокет; проверяем путь пробами HELO
	probe := s.udp.Expect(uid)
	if err := protocol.ExpectToken(br, protocol.TokenOK); err != nil {
		return nil, s.handshakeErr(err)
	}
	addr, err := s.awaitProbe(conn, probe, deadline)
	if err != nil {
		return nil, err
	}
	s.udp.Cancel(uid)
	s.udp.Bind(uid, addr)

	// 7. Сессия готова к рассылке
	if err := conn.SetDeadline(time.Time{}); err != nil {
		s.udp.Unbind(uid)
		return nil, err
	}
	return newSession(conn, protocol.NewReader(br), s.udp, uid, archetype, spawn), nil
}

// awaitProbe ждёт датаграмму HELO не более UDPProbeRounds раундов.
// После неудачного раунда клиенту уходит RETRY, после последнего NOK.
func (s *Server) awaitProbe(conn net.Conn, probe <-chan *net.UDPAddr, deadline time.Time) (*net.UDPAddr, error) {
	for round := 1; round <= s.cfg.UDPProbeRounds; round++ {
		timer := time.NewTimer(probeDeadline(s.cfg.UDPProbeWait, deadline))
		select {
		case addr := <-probe:
			timer.Stop()
			if err := protocol.WriteToken(conn, protocol.TokenOK); err != nil {
				return nil, s.handshakeErr(err)
			}
			return addr, nil
		case <-timer.C:
		}

		if round == s.cfg.UDPProbeRounds || time.Until(deadline) <= 0 {
			break
		}
		if err := protocol.WriteToken(conn, protocol.TokenRetry); err != nil {
			return nil, s.handshakeErr(err)
		}
	}
	protocol.WriteToken(conn, protocol.TokenNOK)
	return nil, ErrUDPProbeFailed
}

// spawnFor собирает Spawn нового игрока: сохранённая позиция или точка появления
func (s *Server) spawnFor(ctx context.Context, uid, archetype int32) protocol.Spawn {
	arch, _ := s.catalog.Archetype(archetype)
	pos := vec.Zero3
	if n := len(s.rules.SpawnPoints); n > 0 {
		pos = s.rules.SpawnPoints[int(uid)%n]
	}

	if s.positions != nil {
		saved, ok, err := s.positions.Load(ctx, uid)
		switch {
		case err != nil:
			s.logger.Warn("⚠️ Не удалось загрузить позицию игрока %d: %v", uid, err)
		case ok && s.rules.OutOfBounds(saved):
			pos = s.rules.NearestSpawn(saved)
		case ok:
			pos = saved
		}
	}

	return protocol.Spawn{
		UID:         uid,
		UnitType:    archetype,
		Health:      arch.MaxHealth,
		MaxHealth:   arch.MaxHealth,
		Position:    pos,
		Orientation: vec.Identity,
		Name:        fmt.Sprintf("%s-%d", arch.Name, uid),
	}
}

func (s *Server) handshakeErr(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}
	return err
}

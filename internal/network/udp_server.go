package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/annel0/arena-sync/internal/logging"
	"github.com/annel0/arena-sync/internal/protocol"
)

// PoseSink принимает позы, пришедшие по ненадёжному каналу
type PoseSink interface {
	SubmitPoses(from int32, poses []protocol.IdentifiedPose)
}

// UDPServer обслуживает ненадёжный канал: пробы HELO во время рукопожатия,
// датаграммы поз от игроков и рассылку датаграмм поз сервера.
type UDPServer struct {
	conn   *net.UDPConn
	sink   PoseSink
	logger *logging.Logger

	mu     sync.RWMutex
	addrs  map[int32]*net.UDPAddr // UID -> адрес
	owners map[string]int32       // адрес -> UID
	probes map[int32]chan *net.UDPAddr

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUDPServer создаёт UDP сервер на address
func NewUDPServer(address string, sink PoseSink) (*UDPServer, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &UDPServer{
		conn:   conn,
		sink:   sink,
		logger: logging.GetNetworkLogger(),
		addrs:  make(map[int32]*net.UDPAddr),
		owners: make(map[string]int32),
		probes: make(map[int32]chan *net.UDPAddr),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Port фактический UDP порт (важно при адресе ":0")
func (s *UDPServer) Port() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// Start запускает цикл приёма
func (s *UDPServer) Start() {
	s.wg.Add(1)
	go s.receiveLoop()
}

// Stop останавливает UDP сервер
func (s *UDPServer) Stop() {
	s.cancel()
	s.conn.Close()
	s.wg.Wait()
}

// Expect регистрирует ожидание пробы HELO от игрока uid
func (s *UDPServer) Expect(uid int32) <-chan *net.UDPAddr {
	ch := make(chan *net.UDPAddr, 1)
	s.mu.Lock()
	s.probes[uid] = ch
	s.mu.Unlock()
	return ch
}

// Cancel снимает ожидание пробы
func (s *UDPServer) Cancel(uid int32) {
	s.mu.Lock()
	delete(s.probes, uid)
	s.mu.Unlock()
}

// Bind связывает адрес с игроком: с этого момента датаграммы поз с addr принимаются от uid
func (s *UDPServer) Bind(uid int32, addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.addrs[uid]; ok {
		delete(s.owners, old.String())
	}
	s.addrs[uid] = addr
	s.owners[addr.String()] = uid
	s.logger.Debug("UDP: игрок %d привязан к %s", uid, addr)
}

// Unbind удаляет адрес игрока
func (s *UDPServer) Unbind(uid int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr, ok := s.addrs[uid]; ok {
		delete(s.owners, addr.String())
		delete(s.addrs, uid)
	}
	delete(s.probes, uid)
}

// SendTo отправляет датаграмму игроку uid; без привязанного адреса ничего не делает
func (s *UDPServer) SendTo(uid int32, data []byte) error {
	s.mu.RLock()
	addr, ok := s.addrs[uid]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	_, err := s.conn.WriteToUDP(data, addr)
	return err
}

// receiveLoop принимает UDP пакеты
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()
	buffer := make([]byte, 2048)

	for {
		n, addr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Ошибка чтения UDP: %v", err)
			continue
		}
		s.handlePacket(buffer[:n], addr)
	}
}

// handlePacket обрабатывает полученный UDP пакет
func (s *UDPServer) handlePacket(data []byte, addr *net.UDPAddr) {
	if uid, ok := protocol.DecodeHello(data); ok {
		s.mu.RLock()
		ch, waiting := s.probes[uid]
		s.mu.RUnlock()
		if !waiting {
			s.logger.Debug("UDP: HELO от %s для %d без ожидания", addr, uid)
			return
		}
		select {
		case ch <- addr:
		default:
		}
		return
	}

	s.mu.RLock()
	uid, bound := s.owners[addr.String()]
	s.mu.RUnlock()
	if !bound {
		s.logger.Trace("UDP: датаграмма от неизвестного адреса %s", addr)
		return
	}

	d, err := protocol.DecodePoseDatagram(data)
	if err != nil {
		logging.LogProtocolError(addr.String(), err, data)
		return
	}
	if len(d.Units) > 0 {
		s.sink.SubmitPoses(uid, d.Units)
	}
}

// probeDeadline ожидание одной пробы, не дальше общего дедлайна рукопожатия
func probeDeadline(wait time.Duration, deadline time.Time) time.Duration {
	if left := time.Until(deadline); left < wait {
		return left
	}
	return wait
}

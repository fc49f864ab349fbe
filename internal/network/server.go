package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/arena-sync/internal/ability"
	"github.com/annel0/arena-sync/internal/config"
	"github.com/annel0/arena-sync/internal/game"
	"github.com/annel0/arena-sync/internal/logging"
	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/vec"
)

// PositionStore хранилище последних позиций игроков между сессиями
type PositionStore interface {
	Load(ctx context.Context, uid int32) (vec.Vec3, bool, error)
	Save(ctx context.Context, uid int32, pos vec.Vec3) error
	BatchSave(ctx context.Context, positions map[int32]vec.Vec3) error
}

// Batch непустой пакет надёжных записей одного тика
type Batch struct {
	Tick    uint64
	At      time.Time
	Records []protocol.Record
}

// BatchSink получатель пакетов тика (шина событий, журнал).
// Вызывается из отдельной горутины, не из потока тика.
type BatchSink interface {
	ConsumeBatch(ctx context.Context, b Batch) error
}

// Options зависимости сервера
type Options struct {
	Config    config.ServerConfig
	Manager   *game.EventManager
	Positions PositionStore
	Metrics   *Metrics
	Sinks     []BatchSink
}

// Stats сводка для административного API
type Stats struct {
	Tick     uint64 `json:"tick"`
	Sessions int    `json:"sessions"`
	Claimed  int    `json:"claimed"`
	Uptime   string `json:"uptime"`
}

// Server авторитетный сервер: приём соединений, рукопожатие и единственный поток тика,
// владеющий менеджером событий и репликатором.
type Server struct {
	cfg        config.ServerConfig
	manager    *game.EventManager
	catalog    *ability.Catalog
	rules      *ability.Rules
	replicator *Replicator
	listener   net.Listener
	udp        *UDPServer
	claims     *Claims
	positions  PositionStore
	metrics    *Metrics
	sinks      []BatchSink
	logger     *logging.Logger

	joins  game.Queue[*Session]
	leaves game.Queue[*Session]

	mu   sync.Mutex
	live map[int32]*Session

	batches  chan Batch
	releases []int32
	tick     atomic.Uint64
	started  time.Time
	lastSave time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer открывает надёжный и UDP слушатели. Сеть не обслуживается до Start.
func NewServer(opts Options) (*Server, error) {
	if opts.Manager == nil || opts.Manager.Role() != game.RoleAuthority {
		return nil, errors.New("network: server requires an authority event manager")
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(prometheus.NewRegistry())
	}

	listener, err := Listen(opts.Config.Transport, opts.Config.TCPAddr())
	if err != nil {
		return nil, err
	}
	udp, err := NewUDPServer(opts.Config.UDPAddr(), opts.Manager)
	if err != nil {
		listener.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        opts.Config,
		manager:    opts.Manager,
		catalog:    opts.Manager.Catalog(),
		rules:      opts.Manager.Rules(),
		replicator: NewReplicator(opts.Manager),
		listener:   listener,
		udp:        udp,
		claims:     NewClaims(opts.Config.MaxSessions),
		positions:  opts.Positions,
		metrics:    opts.Metrics,
		sinks:      opts.Sinks,
		logger:     logging.GetServerLogger(),
		live:       make(map[int32]*Session),
		batches:    make(chan Batch, 256),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Addr адрес надёжного слушателя
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// UDPPort порт ненадёжного канала
func (s *Server) UDPPort() int { return s.udp.Port() }

// Start запускает приём соединений, UDP и поток тика
func (s *Server) Start() {
	s.started = time.Now()
	s.udp.Start()

	s.wg.Add(3)
	go s.acceptLoop()
	go s.tickLoop()
	go s.sinkLoop()

	s.logger.Info("🚀 Сервер запущен: %s %s, UDP :%d, %d Гц",
		s.cfg.Transport, s.listener.Addr(), s.udp.Port(), s.cfg.TickHz)
}

// Stop закрывает все соединения, дожидается горутин и сохраняет позиции игроков
func (s *Server) Stop() {
	s.cancel()
	s.listener.Close()

	s.mu.Lock()
	for _, sess := range s.live {
		sess.Close(ReasonShutdown)
	}
	s.mu.Unlock()

	s.udp.Stop()
	s.wg.Wait()

	if s.positions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.positions.BatchSave(ctx, s.manager.PlayerPositions()); err != nil {
			s.logger.Error("❌ Сохранение позиций при остановке: %v", err)
		}
	}
	s.logger.Info("🛑 Сервер остановлен")
}

// Stats текущая сводка. Потокобезопасен.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	sessions := len(s.live)
	s.mu.Unlock()
	return Stats{
		Tick:     s.tick.Load(),
		Sessions: sessions,
		Claimed:  s.claims.Len(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	}
}

// acceptLoop принимает новые соединения
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Ошибка принятия соединения: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

// serve проводит рукопожатие и обслуживает сессию до отключения
func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()

	sess, err := s.handshake(conn)
	if err != nil {
		s.metrics.Handshakes.WithLabelValues(handshakeOutcome(err)).Inc()
		s.logger.Info("🚫 Рукопожатие с %s не удалось: %v", conn.RemoteAddr(), err)
		lingerClose(conn)
		return
	}
	s.metrics.Handshakes.WithLabelValues("ok").Inc()
	s.logger.Info("🔗 Игрок %d подключился (%s, сессия %s)", sess.UID(), conn.RemoteAddr(), sess.ID())

	s.mu.Lock()
	s.live[sess.UID()] = sess
	s.mu.Unlock()

	if s.ctx.Err() != nil {
		sess.Close(ReasonShutdown)
	}
	s.joins.Push(sess)
	sess.run(s.manager, s.cfg.InactivityTimeout)

	s.mu.Lock()
	if s.live[sess.UID()] == sess {
		delete(s.live, sess.UID())
	}
	s.mu.Unlock()
	s.leaves.Push(sess)
	s.logger.Info("👋 Игрок %d отключился: %s", sess.UID(), sess.Reason())
}

// lingerClose закрывает отклонённое соединение так, чтобы ответ NOK дошёл до клиента:
// непрочитанные входящие данные при Close превращаются в RST, который отбрасывает ответ
func lingerClose(conn net.Conn) {
	defer conn.Close()
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.CloseWrite()
	}
	conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
	io.Copy(io.Discard, conn)
}

func handshakeOutcome(err error) string {
	switch {
	case errors.Is(err, ErrHandshakeTimeout):
		return "timeout"
	case errors.Is(err, ErrInvalidUID), errors.Is(err, ErrUIDTaken), errors.Is(err, ErrNotPlayable):
		return "rejected"
	case errors.Is(err, ErrUDPProbeFailed):
		return "udp_failed"
	default:
		return "error"
	}
}

// tickLoop единственный поток, изменяющий состояние мира
func (s *Server) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-ticker.C:
			s.step(t.Sub(s.started))
		}
	}
}

// step один тик сервера
func (s *Server) step(now time.Duration) {
	began := time.Now()

	for _, sess := range s.joins.Drain() {
		s.manager.Enqueue(sess.Spawn())
		s.replicator.Connect(sess)
	}
	for _, sess := range s.leaves.Drain() {
		s.drop(sess)
	}

	batch := s.manager.Step(now)

	// UID освобождается только после того, как Despawn применён
	for _, uid := range s.releases {
		s.claims.Release(uid)
	}
	s.releases = s.releases[:0]

	stats := s.replicator.Tick(batch)
	tick := s.tick.Add(1)

	s.metrics.TickDuration.Observe(time.Since(began).Seconds())
	s.metrics.BatchRecords.Observe(float64(len(batch)))
	s.metrics.ReliableBytes.Add(float64(stats.ReliableBytes))
	s.metrics.Sessions.Set(float64(s.replicator.Synced()))
	if stats.PoseBytes > 0 {
		s.metrics.PoseBytes.Observe(float64(stats.PoseBytes))
		s.metrics.PoseUnits.Observe(float64(stats.PoseUnits))
	}

	if len(batch) > 0 && len(s.sinks) > 0 {
		select {
		case s.batches <- Batch{Tick: tick, At: time.Now(), Records: batch}:
		default:
			s.logger.Warn("⚠️ Очередь пакетов переполнена, пакет тика %d пропущен", tick)
		}
	}

	if s.positions != nil && s.cfg.AutosaveEvery > 0 && now-s.lastSave >= s.cfg.AutosaveEvery {
		s.lastSave = now
		s.autosave()
	}
}

// drop убирает отключившегося игрока из мира и рассылки
func (s *Server) drop(sess *Session) {
	uid := sess.UID()
	if u, ok := s.manager.Unit(uid); ok && s.positions != nil {
		pos := u.Position
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.positions.Save(ctx, uid, pos); err != nil {
				s.logger.Warn("⚠️ Не удалось сохранить позицию игрока %d: %v", uid, err)
			}
		}()
	}

	s.manager.Enqueue(protocol.Despawn{UID: uid})
	s.replicator.Disconnect(uid)
	s.udp.Unbind(uid)
	s.releases = append(s.releases, uid)
	s.metrics.Disconnects.WithLabelValues(sess.Reason()).Inc()
}

// autosave периодически сохраняет позиции всех игроков одной пачкой
func (s *Server) autosave() {
	positions := s.manager.PlayerPositions()
	if len(positions) == 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		if err := s.positions.BatchSave(ctx, positions); err != nil {
			s.logger.Warn("⚠️ Автосохранение позиций: %v", err)
			return
		}
		s.logger.Debug("💾 Автосохранение: %d игроков", len(positions))
	}()
}

// sinkLoop передаёт пакеты тиков получателям вне потока тика
func (s *Server) sinkLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case b := <-s.batches:
			for _, sink := range s.sinks {
				ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
				if err := sink.ConsumeBatch(ctx, b); err != nil {
					s.logger.Warn("⚠️ Пакет тика %d не доставлен в %T: %v", b.Tick, sink, err)
				}
				cancel()
			}
		}
	}
}

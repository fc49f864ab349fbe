package network

import (
	"github.com/annel0/arena-sync/internal/logging"
	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/world/entity"
)

// World часть менеджера событий, нужная репликатору
type World interface {
	Units() []*entity.Unit
	ScenePoses() []protocol.ScenePose
	Snapshot(exclude int32) []protocol.Record
}

// Outbound данные одного тика для одной сессии
type Outbound struct {
	Reliable []byte
	Pose     []byte
}

// Empty true если отправлять нечего
func (o Outbound) Empty() bool {
	return len(o.Reliable) == 0 && len(o.Pose) == 0
}

// Peer получатель рассылки
type Peer interface {
	UID() int32
	Deliver(out Outbound)
}

// TickStats итоги одного прохода репликатора
type TickStats struct {
	PoseBytes     int
	PoseUnits     int
	ReliableBytes int
	CaughtUp      int
}

// Replicator выполняет синхронизацию тика: позы по кругу в пределах бюджета датаграммы,
// догоняющий снимок для новых сессий и надёжную рассылку с фильтрацией Noop.
// Используется только из потока тика.
type Replicator struct {
	world   World
	pending []Peer
	synced  []Peer
	cursor  int32 // UID последнего попавшего в датаграмму юнита
	budget  int
	logger  *logging.Logger
}

// NewReplicator создаёт репликатор с бюджетом датаграммы protocol.MaxDatagramSize
func NewReplicator(world World) *Replicator {
	return &Replicator{
		world:  world,
		budget: protocol.MaxDatagramSize,
		logger: logging.GetNetworkLogger(),
	}
}

// Connect ставит сессию, завершившую рукопожатие, в очередь на догоняющий снимок
func (r *Replicator) Connect(p Peer) {
	r.pending = append(r.pending, p)
}

// Disconnect убирает сессию игрока uid из рассылки
func (r *Replicator) Disconnect(uid int32) {
	r.pending = removePeer(r.pending, uid)
	r.synced = removePeer(r.synced, uid)
}

func removePeer(peers []Peer, uid int32) []Peer {
	out := peers[:0]
	for _, p := range peers {
		if p.UID() != uid {
			out = append(out, p)
		}
	}
	for i := len(out); i < len(peers); i++ {
		peers[i] = nil
	}
	return out
}

// Synced количество синхронизированных сессий
func (r *Replicator) Synced() int { return len(r.synced) }

// IsSynced проверяет, получила ли сессия игрока uid снимок мира
func (r *Replicator) IsSynced(uid int32) bool {
	for _, p := range r.synced {
		if p.UID() == uid {
			return true
		}
	}
	return false
}

// Tick выполняет три прохода синхронизации для пакета batch
func (r *Replicator) Tick(batch []protocol.Record) TickStats {
	var stats TickStats

	pose, units := r.samplePoses()
	stats.PoseBytes = len(pose)
	stats.PoseUnits = units

	// Снимок строится после применения пакета и уже содержит его последствия,
	// поэтому сессия, догнанная в этом тике, сам пакет не получает
	synced := len(r.synced)
	for _, p := range r.pending {
		snapshot := protocol.EncodeAll(r.world.Snapshot(p.UID()))
		p.Deliver(Outbound{Reliable: snapshot, Pose: pose})
		r.synced = append(r.synced, p)
		stats.CaughtUp++
		stats.ReliableBytes += len(snapshot)
		r.logger.Debug("📦 Снимок мира для игрока %d: %d байт", p.UID(), len(snapshot))
	}
	for i := range r.pending {
		r.pending[i] = nil
	}
	r.pending = r.pending[:0]

	segments := make([][]byte, len(batch))
	hasNoop := false
	for i, rec := range batch {
		segments[i] = protocol.Encode(rec)
		if rec.Kind() == protocol.KindNoop {
			hasNoop = true
		}
	}
	var shared []byte
	if !hasNoop {
		shared = concat(segments, nil, 0)
	}

	for _, p := range r.synced[:synced] {
		out := Outbound{Pose: pose, Reliable: shared}
		if hasNoop {
			out.Reliable = concat(segments, batch, p.UID())
		}
		if out.Empty() {
			continue
		}
		stats.ReliableBytes += len(out.Reliable)
		p.Deliver(out)
	}
	return stats
}

// concat склеивает закодированные записи; при batch != nil пропускает Noop, адресованные не uid
func concat(segments [][]byte, batch []protocol.Record, uid int32) []byte {
	size := 0
	for _, s := range segments {
		size += len(s)
	}
	if size == 0 {
		return nil
	}
	out := make([]byte, 0, size)
	for i, s := range segments {
		if batch != nil {
			if n, ok := batch[i].(protocol.Noop); ok && n.SourceUID != uid {
				continue
			}
		}
		out = append(out, s...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// samplePoses собирает датаграмму: все объекты сцены и юниты по кругу, начиная после курсора
func (r *Replicator) samplePoses() ([]byte, int) {
	scene := r.world.ScenePoses()
	units := r.world.Units()

	free := r.budget - protocol.PoseHeaderSize - len(scene)*protocol.ScenePoseSize
	if free < 0 {
		r.logger.Warn("⚠️ Объекты сцены не помещаются в датаграмму: %d шт.", len(scene))
		scene = scene[:(r.budget-protocol.PoseHeaderSize)/protocol.ScenePoseSize]
		free = 0
	}
	capacity := free / protocol.IdentifiedPoseSize

	d := protocol.PoseDatagram{Scene: scene}
	if n := len(units); n > 0 && capacity > 0 {
		start := 0
		for start < n && units[start].UID() <= r.cursor {
			start++
		}
		take := capacity
		if take > n {
			take = n
		}
		d.Units = make([]protocol.IdentifiedPose, 0, take)
		for i := 0; i < take; i++ {
			u := units[(start+i)%n]
			d.Units = append(d.Units, u.Pose())
		}
		r.cursor = d.Units[len(d.Units)-1].UID
	}

	if d.Empty() {
		return nil, 0
	}
	buf, err := protocol.AppendPoseDatagram(make([]byte, 0, d.Size()), d)
	if err != nil {
		r.logger.Error("❌ Датаграмма поз: %v", err)
		return nil, 0
	}
	return buf, len(d.Units)
}

// bot-client подключает к серверу несколько ботов, которые ходят по кругу
// и применяют способности своего архетипа. Используется для нагрузочной проверки.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/annel0/arena-sync/internal/ability"
	"github.com/annel0/arena-sync/internal/client"
	"github.com/annel0/arena-sync/internal/game"
	"github.com/annel0/arena-sync/internal/logging"
	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/vec"
)

type options struct {
	addr      string
	transport string
	firstUID  int
	count     int
	archetype int
	castEvery time.Duration
	duration  time.Duration
	catalog   *ability.Catalog
	rules     *ability.Rules
}

func main() {
	var opts options
	catalogPath := flag.String("catalog", "", "YAML каталог способностей (по умолчанию встроенный)")
	flag.StringVar(&opts.addr, "addr", "127.0.0.1:7777", "адрес надёжного канала сервера")
	flag.StringVar(&opts.transport, "transport", "tcp", "tcp или kcp")
	flag.IntVar(&opts.firstUID, "uid", 1000, "UID первого бота")
	flag.IntVar(&opts.count, "n", 1, "количество ботов")
	flag.IntVar(&opts.archetype, "archetype", 0, "архетип; 0 перебирает игровые архетипы")
	flag.DurationVar(&opts.castEvery, "cast-every", 700*time.Millisecond, "интервал попыток применить способность")
	flag.DurationVar(&opts.duration, "duration", 0, "время работы; 0 до Ctrl+C")
	flag.Parse()

	if err := logging.InitDefaultLogger("bot-client"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	opts.catalog = ability.DefaultCatalog()
	if *catalogPath != "" {
		c, err := ability.LoadCatalog(*catalogPath)
		if err != nil {
			log.Fatalf("❌ Каталог: %v", err)
		}
		opts.catalog = c
	}
	opts.rules = ability.DefaultRules()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	playable := opts.catalog.PlayableArchetypes()
	var wg sync.WaitGroup
	for i := 0; i < opts.count; i++ {
		uid := int32(opts.firstUID + i)
		arch := int32(opts.archetype)
		if arch == 0 {
			arch = playable[i%len(playable)]
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runBot(ctx, opts, uid, arch); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				logging.Error("❌ Бот %d: %v", uid, err)
			}
		}()
	}
	wg.Wait()
}

// bot состояние одного бота
type bot struct {
	c       *client.Client
	uid     int32
	abils   []ability.Ability
	rng     *rand.Rand
	center  vec.Vec3
	started time.Time
	casts   int
	refused int
}

func runBot(ctx context.Context, opts options, uid, archetype int32) error {
	arch, ok := opts.catalog.Archetype(archetype)
	if !ok {
		return fmt.Errorf("неизвестный архетип %d", archetype)
	}

	c, err := client.Connect(ctx, client.Config{
		Transport: opts.transport,
		Addr:      opts.addr,
		UID:       uid,
		Archetype: archetype,
		Catalog:   opts.catalog,
		Rules:     opts.rules,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	b := &bot{
		c:       c,
		uid:     uid,
		rng:     rand.New(rand.NewSource(int64(uid))),
		started: time.Now(),
	}
	for _, code := range arch.Abilities {
		if a, ok := opts.catalog.Ability(code); ok && !a.ComboOnly {
			b.abils = append(b.abils, a)
		}
	}
	if u, ok := c.Manager().UnitView(uid); ok {
		b.center = u.Position
	}
	logging.Info("🤖 Бот %d (%s) в игре", uid, arch.Name)

	move := time.NewTicker(50 * time.Millisecond)
	defer move.Stop()
	cast := time.NewTicker(opts.castEvery)
	defer cast.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("🤖 Бот %d: отправлено %d действий, отклонено локально %d", uid, b.casts, b.refused)
			return ctx.Err()
		case <-c.Done():
			return c.Err()
		case <-move.C:
			if err := b.step(ctx); err != nil && !errors.Is(err, client.ErrInvalid) {
				return err
			}
		case <-cast.C:
			b.tryCast(ctx)
		}
	}
}

// step ведёт юнит по окружности радиусом 6 вокруг точки появления
func (b *bot) step(ctx context.Context) error {
	t := time.Since(b.started).Seconds()
	angle := t * 0.8
	pos := vec.Vec3{
		X: b.center.X + float32(6*math.Cos(angle)),
		Y: b.center.Y,
		Z: b.center.Z + float32(6*math.Sin(angle)),
	}
	return b.c.Move(ctx, pos, vec.YawQuat(angle+math.Pi/2))
}

func (b *bot) tryCast(ctx context.Context) {
	me, ok := b.c.Manager().UnitView(b.uid)
	if !ok {
		return
	}
	var rec protocol.CastRecord
	if me.Dead {
		rec = protocol.VectorCast{CasterUID: b.uid, Code: ability.CodeRespawn, Position: b.center, Orientation: vec.Identity}
	} else if len(b.abils) > 0 {
		rec = b.record(b.abils[b.rng.Intn(len(b.abils))], me, b.c.View())
	}
	if rec == nil {
		return
	}

	err := b.c.Cast(ctx, rec)
	switch {
	case err == nil:
		b.casts++
	case errors.Is(err, client.ErrBusy), errors.Is(err, client.ErrInvalid):
		b.refused++
		logging.Trace("Бот %d: %v", b.uid, err)
	default:
		logging.Warn("⚠️ Бот %d: %v", b.uid, err)
	}
}

// record строит запись того вида, который ждёт способность
func (b *bot) record(a ability.Ability, me game.UnitView, view *game.View) protocol.CastRecord {
	switch a.RecordKind() {
	case protocol.KindCast:
		return protocol.Cast{CasterUID: b.uid, Code: a.Code}
	case protocol.KindTargetedCast:
		target, ok := nearest(me, view, 1)
		if !ok {
			return nil
		}
		return protocol.TargetedCast{CasterUID: b.uid, TargetUID: target[0], Code: a.Code}
	case protocol.KindMultiTargetedCast:
		targets, ok := nearest(me, view, 3)
		if !ok {
			return nil
		}
		return protocol.MultiTargetedCast{CasterUID: b.uid, Code: a.Code, Targets: targets}
	case protocol.KindVectorCast:
		dest := me.Position.Add(vec.Vec3{X: float32(b.rng.Intn(9) - 4), Z: float32(b.rng.Intn(9) - 4)})
		return protocol.VectorCast{CasterUID: b.uid, Code: a.Code, Position: dest, Orientation: vec.Identity}
	default:
		return nil
	}
}

// nearest до n ближайших живых юнитов кроме себя
func nearest(me game.UnitView, view *game.View, n int) ([]int32, bool) {
	type cand struct {
		uid  int32
		dist float32
	}
	var cands []cand
	for _, u := range view.Units {
		if u.UID == me.UID || u.Dead {
			continue
		}
		cands = append(cands, cand{u.UID, me.Position.DistanceTo(u.Position)})
	}
	if len(cands) == 0 {
		return nil, false
	}
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && cands[j].dist < cands[j-1].dist; j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
	if len(cands) > n {
		cands = cands[:n]
	}
	out := make([]int32, len(cands))
	for i, c := range cands {
		out[i] = c.uid
	}
	return out, true
}

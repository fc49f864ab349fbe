package entity

import (
	"math"
	"math/rand"

	"github.com/annel0/arena-sync/internal/vec"
)

// WanderState состояние блуждающего NPC
type WanderState uint8

const (
	WanderIdle WanderState = iota
	WanderMoving
)

// WanderParams параметры блуждания NPC вокруг домашней точки
type WanderParams struct {
	Speed         float32    `yaml:"speed"`
	Radius        float32    `yaml:"radius"`
	IdleTimeRange [2]float64 `yaml:"idle_time_range"` // Мин/макс время простоя, сек
	MoveTimeRange [2]float64 `yaml:"move_time_range"` // Мин/макс время движения, сек
}

// DefaultWanderParams параметры манекена по умолчанию
func DefaultWanderParams() WanderParams {
	return WanderParams{
		Speed:         2.0,
		Radius:        8.0,
		IdleTimeRange: [2]float64{1.0, 5.0},
		MoveTimeRange: [2]float64{1.0, 3.0},
	}
}

// Wanderer серверное поведение NPC: стоит, затем идёт к случайной точке возле дома
type Wanderer struct {
	params WanderParams
	rng    *rand.Rand
	home   vec.Vec3
	target vec.Vec3
	state  WanderState
	timer  float64
}

// NewWanderer создаёт поведение блуждания вокруг home
func NewWanderer(params WanderParams, home vec.Vec3, rng *rand.Rand) *Wanderer {
	w := &Wanderer{params: params, rng: rng, home: home, target: home}
	w.timer = w.randomIn(params.IdleTimeRange)
	return w
}

// State текущее состояние
func (w *Wanderer) State() WanderState { return w.state }

// Update продвигает NPC на dt секунд. Мёртвые, оглушённые и привязанные юниты стоят.
// Возвращает true, если поза юнита изменилась.
func (w *Wanderer) Update(u *Unit, dt float64) bool {
	if u.Dead() || u.Stunned() || u.LeashedBy != 0 {
		if u.Velocity != vec.Zero3 {
			u.Velocity = vec.Zero3
			return true
		}
		return false
	}

	w.timer -= dt
	if w.timer <= 0 {
		switch w.state {
		case WanderIdle:
			w.state = WanderMoving
			w.timer = w.randomIn(w.params.MoveTimeRange)
			w.target = w.randomAround(w.home, w.params.Radius)
		case WanderMoving:
			w.stop(u)
			return true
		}
	}

	if w.state != WanderMoving {
		return false
	}

	toTarget := w.target.Sub(u.Position)
	dist := toTarget.Length()
	if dist < 0.5 {
		w.stop(u)
		return true
	}

	dir := toTarget.Mul(1 / dist)
	u.Velocity = dir.Mul(w.params.Speed)
	u.Position = u.Position.Add(u.Velocity.Mul(float32(dt)))
	u.Orientation = vec.YawQuat(math.Atan2(float64(dir.X), float64(dir.Z)))
	u.AnimState = AnimMove
	return true
}

func (w *Wanderer) stop(u *Unit) {
	w.state = WanderIdle
	w.timer = w.randomIn(w.params.IdleTimeRange)
	u.Velocity = vec.Zero3
	u.AnimState = AnimIdle
}

// randomIn возвращает случайное число в указанном диапазоне
func (w *Wanderer) randomIn(r [2]float64) float64 {
	return r[0] + w.rng.Float64()*(r[1]-r[0])
}

// randomAround возвращает случайную точку в круге радиуса radius в плоскости XZ
func (w *Wanderer) randomAround(center vec.Vec3, radius float32) vec.Vec3 {
	angle := w.rng.Float64() * 2 * math.Pi
	// Корень для равномерного распределения по площади
	distance := float64(radius) * math.Sqrt(w.rng.Float64())
	return vec.Vec3{
		X: center.X + float32(distance*math.Cos(angle)),
		Y: center.Y,
		Z: center.Z + float32(distance*math.Sin(angle)),
	}
}

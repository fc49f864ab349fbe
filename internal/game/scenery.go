package game

import (
	"math"
	"time"

	"github.com/aquilax/go-perlin"

	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/vec"
)

// Scenery постоянный объект сцены без UID: платформа, качающаяся вдоль оси.
// Его поза целиком определяется временем симуляции.
type Scenery struct {
	Origin    vec.Vec3
	Axis      vec.Vec3
	Amplitude float32
	Period    time.Duration

	// Jitter вертикальная дрожь поверх колебания, шум Перлина от времени
	Jitter float32
	noise  *perlin.Perlin
}

// WithNoise включает дрожь с детерминированным сидом: реплики с тем же сидом
// получают те же позы.
func (s Scenery) WithNoise(seed int64) Scenery {
	if s.Jitter != 0 {
		s.noise = perlin.NewPerlin(2, 2, 3, seed)
	}
	return s
}

// PoseAt поза объекта в момент now
func (s Scenery) PoseAt(now time.Duration) protocol.ScenePose {
	pose := protocol.ScenePose{Position: s.Origin, Orientation: vec.Identity}
	if s.Period > 0 && s.Amplitude != 0 {
		omega := 2 * math.Pi / s.Period.Seconds()
		phase := omega * now.Seconds()

		offset := float32(math.Sin(phase)) * s.Amplitude
		speed := float32(math.Cos(phase)*omega) * s.Amplitude
		pose.Position = s.Origin.Add(s.Axis.Mul(offset))
		pose.Velocity = s.Axis.Mul(speed)
	}
	if s.noise != nil {
		pose.Position.Y += float32(s.noise.Noise1D(now.Seconds()/4)) * s.Jitter
	}
	return pose
}

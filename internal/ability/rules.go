package ability

import (
	"github.com/annel0/arena-sync/internal/vec"
)

// Rules параметры мира, известные и клиенту, и серверу
type Rules struct {
	// Bound половина ребра игрового куба: |x|,|y|,|z| <= Bound
	Bound float32
	// RespawnInset отступ от противоположной границы при возврате в зону
	RespawnInset float32
	SpawnPoints  []vec.Vec3
}

// DefaultRules правила мира по умолчанию
func DefaultRules() *Rules {
	return &Rules{
		Bound:        200,
		RespawnInset: 5,
		SpawnPoints:  []vec.Vec3{{}, {X: 50, Z: 50}, {X: -50, Z: -50}},
	}
}

// OutOfBounds true если хотя бы одна координата за пределами зоны
func (r *Rules) OutOfBounds(p vec.Vec3) bool {
	return p.MaxAbs() > r.Bound
}

// NearestSpawn ближайшая к p точка появления
func (r *Rules) NearestSpawn(p vec.Vec3) vec.Vec3 {
	if len(r.SpawnPoints) == 0 {
		return vec.Zero3
	}
	best := r.SpawnPoints[0]
	bestDist := p.DistanceTo(best)
	for _, sp := range r.SpawnPoints[1:] {
		if d := p.DistanceTo(sp); d < bestDist {
			best, bestDist = sp, d
		}
	}
	return best
}

// WrapInside переносит каждую вышедшую за границу координату к противоположной границе
func (r *Rules) WrapInside(p vec.Vec3) vec.Vec3 {
	return vec.Vec3{X: r.wrapAxis(p.X), Y: r.wrapAxis(p.Y), Z: r.wrapAxis(p.Z)}
}

func (r *Rules) wrapAxis(v float32) float32 {
	edge := r.Bound - r.RespawnInset
	switch {
	case v > r.Bound:
		return -edge
	case v < -r.Bound:
		return edge
	default:
		return v
	}
}

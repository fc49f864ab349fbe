package vec

import "math"

// Quat представляет ориентацию в виде кватерниона (x, y, z, w)
type Quat struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

// Identity единичный кватернион (без поворота)
var Identity = Quat{W: 1}

// YawQuat строит кватернион поворота вокруг вертикальной оси Y на угол в радианах
func YawQuat(angle float64) Quat {
	half := angle / 2
	return Quat{Y: float32(math.Sin(half)), W: float32(math.Cos(half))}
}

// Norm возвращает длину кватерниона
func (q Quat) Norm() float32 {
	return float32(math.Sqrt(float64(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)))
}

// Normalized возвращает нормализованный кватернион; нулевой превращается в Identity
func (q Quat) Normalized() Quat {
	n := q.Norm()
	if n == 0 {
		return Identity
	}
	return Quat{X: q.X / n, Y: q.Y / n, Z: q.Z / n, W: q.W / n}
}

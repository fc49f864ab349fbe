package vec

import "math"

// Vec3 представляет трёхмерный вектор в мировых координатах.
// Используется float32, так как именно такая точность передаётся по сети.
type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Zero3 нулевой вектор
var Zero3 = Vec3{}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Mul умножает вектор на скаляр
func (v Vec3) Mul(scalar float32) Vec3 {
	return Vec3{X: v.X * scalar, Y: v.Y * scalar, Z: v.Z * scalar}
}

// Length возвращает длину вектора
func (v Vec3) Length() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// DistanceTo возвращает евклидово расстояние до другой точки
func (v Vec3) DistanceTo(other Vec3) float32 {
	return v.Sub(other).Length()
}

// MaxAbs возвращает наибольший модуль среди координат
func (v Vec3) MaxAbs() float32 {
	m := abs(v.X)
	if y := abs(v.Y); y > m {
		m = y
	}
	if z := abs(v.Z); z > m {
		m = z
	}
	return m
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

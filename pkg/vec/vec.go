// Package vec provides the float32 vector primitive shared by the
// localization, scan-matching and planning packages.
//
// Vector is a plain []float32 with chainable, in-place mutators, the same
// shape as the teacher repository's pkg/core/math/vec package, trimmed to
// the 2-D/3-D robotics operations navcore actually needs (no quaternions,
// no homogeneous transforms).
package vec

import "github.com/chewxy/math32"

type Vector []float32

func New(size int) Vector {
	return make(Vector, size)
}

func NewFrom(v ...float32) Vector {
	return v
}

func (v Vector) Sum() float32 {
	var sum float32
	for _, val := range v {
		sum += val
	}
	return sum
}

func (v Vector) SumSqr() float32 {
	var sum float32
	for _, val := range v {
		sum += val * val
	}
	return sum
}

func (v Vector) Magnitude() float32 {
	return math32.Sqrt(v.SumSqr())
}

func (v Vector) DistanceSqr(v1 Vector) float32 {
	return v.Clone().Sub(v1).SumSqr()
}

func (v Vector) Distance(v1 Vector) float32 {
	return math32.Sqrt(v.DistanceSqr(v1))
}

func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	clone := make(Vector, len(v))
	copy(clone, v)
	return clone
}

func (v Vector) CopyFrom(start int, v1 Vector) Vector {
	copy(v[start:], v1)
	return v
}

func (v Vector) Clamp(min, max Vector) Vector {
	for i := range v {
		v[i] = Clamp(v[i], min[i], max[i])
	}
	return v
}

func (v Vector) FillC(c float32) Vector {
	for i := range v {
		v[i] = c
	}
	return v
}

func (v Vector) Neg() Vector {
	for i := range v {
		v[i] = -v[i]
	}
	return v
}

func (v Vector) Add(v1 Vector) Vector {
	for i := range v {
		v[i] += v1[i]
	}
	return v
}

func (v Vector) Sub(v1 Vector) Vector {
	for i := range v {
		v[i] -= v1[i]
	}
	return v
}

func (v Vector) MulC(c float32) Vector {
	for i := range v {
		v[i] *= c
	}
	return v
}

func (v Vector) DivC(c float32) Vector {
	for i := range v {
		v[i] /= c
	}
	return v
}

func (v Vector) Multiply(v1 Vector) Vector {
	for i := range v {
		v[i] *= v1[i]
	}
	return v
}

func (v Vector) Dot(v1 Vector) float32 {
	var sum float32
	for i := range v {
		sum += v[i] * v1[i]
	}
	return sum
}

// Clamp clamps a scalar to [min, max].
func Clamp(a, min, max float32) float32 {
	switch {
	case a > max:
		return max
	case a < min:
		return min
	default:
		return a
	}
}

// NormalizeAngle wraps theta into (-pi, pi].
func NormalizeAngle(theta float32) float32 {
	for theta > math32.Pi {
		theta -= 2 * math32.Pi
	}
	for theta <= -math32.Pi {
		theta += 2 * math32.Pi
	}
	return theta
}

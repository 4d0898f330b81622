package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestRotatePointIdentityLimit(t *testing.T) {
	p := r3.Vector{X: 1.5, Y: -2, Z: 7}
	for _, rv := range []r3.Vector{
		{},
		{X: 1e-13},
		{X: 3e-13, Y: -4e-13, Z: 1e-14},
	} {
		test.That(t, RotatePoint(p, rv), test.ShouldResemble, p)
		m := NewRotationMatrixFromVector(rv)
		test.That(t, m.Mul(p), test.ShouldResemble, p)
	}
}

func TestRotatePointQuarterTurn(t *testing.T) {
	// 90 degrees about z takes x to y
	rv := r3.Vector{Z: math.Pi / 2}
	out := RotatePoint(r3.Vector{X: 1}, rv)
	test.That(t, out.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, out.Y, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, out.Z, test.ShouldAlmostEqual, 0, 1e-12)

	// a point on the axis is fixed
	out = RotatePoint(r3.Vector{Z: 3}, rv)
	test.That(t, out.Z, test.ShouldAlmostEqual, 3, 1e-12)
	test.That(t, out.Norm(), test.ShouldAlmostEqual, 3, 1e-12)
}

// rotateByQuat rotates p by the rotation vector rv as q p q⁻¹ with the unit quaternion
// q = (cos(θ/2), sin(θ/2) axis).
func rotateByQuat(p, rv r3.Vector) r3.Vector {
	theta := rv.Norm()
	q := quat.Number{Real: 1}
	if theta >= RotationEpsilon {
		axis := rv.Mul(math.Sin(theta/2) / theta)
		q = quat.Number{Real: math.Cos(theta / 2), Imag: axis.X, Jmag: axis.Y, Kmag: axis.Z}
	}
	pq := quat.Number{Imag: p.X, Jmag: p.Y, Kmag: p.Z}
	rotated := quat.Mul(quat.Mul(q, pq), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

func TestRotatePointAgreesWithQuaternion(t *testing.T) {
	points := []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: -4, Y: 0.5, Z: 0.25}, {X: 0, Y: 0, Z: -10}}
	vectors := []r3.Vector{{}, {X: 0.1, Y: -0.2, Z: 0.3}, {X: 2, Y: 1, Z: -1}, {X: 0, Y: math.Pi, Z: 0}}
	for _, rv := range vectors {
		m := NewRotationMatrixFromVector(rv)
		for _, p := range points {
			expected := rotateByQuat(p, rv)
			actual := RotatePoint(p, rv)
			test.That(t, actual.Sub(expected).Norm(), test.ShouldBeLessThan, 1e-12)
			test.That(t, m.Mul(p).Sub(expected).Norm(), test.ShouldBeLessThan, 1e-12)
			// rotations preserve length and Rᵀ undoes R
			test.That(t, actual.Norm(), test.ShouldAlmostEqual, p.Norm(), 1e-12)
			test.That(t, m.TransposeMul(actual).Sub(p).Norm(), test.ShouldBeLessThan, 1e-12)
		}
	}
}

func TestRotatePointJacobian(t *testing.T) {
	p := r3.Vector{X: 0.3, Y: -1.2, Z: 2.5}
	for _, rv := range []r3.Vector{
		{},
		{X: 0.01, Y: 0.02, Z: -0.03},
		{X: 0.7, Y: -0.4, Z: 1.1},
		{X: -2.5, Y: 0.1, Z: 0.2},
	} {
		analytic := RotatePointJacobian(p, rv)
		const h = 1e-6
		for k := 0; k < 3; k++ {
			plus, minus := rv, rv
			switch k {
			case 0:
				plus.X += h
				minus.X -= h
			case 1:
				plus.Y += h
				minus.Y -= h
			default:
				plus.Z += h
				minus.Z -= h
			}
			numeric := RotatePoint(p, plus).Sub(RotatePoint(p, minus)).Mul(1 / (2 * h))
			test.That(t, analytic[k].Sub(numeric).Norm(), test.ShouldBeLessThan, 1e-7)
		}
	}
}

// Package spatialmath rotates points by BAL rotation vectors with Rodrigues' formula.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// RotationEpsilon is the rotation vector length below which the rotation axis is undefined
// and the rotation is treated as the identity.
const RotationEpsilon = 1e-12

// RotatePoint rotates p by the rotation vector rv using Rodrigues' rotation formula
//
//	p' = cos(θ) p + sin(θ) (v × p) + (v · p)(1 - cos(θ)) v
//
// where θ = |rv| and v = rv/θ.
func RotatePoint(p, rv r3.Vector) r3.Vector {
	theta := rv.Norm()
	if theta < RotationEpsilon {
		return p
	}
	v := rv.Mul(1 / theta)
	cosTheta := math.Cos(theta)
	sinTheta := math.Sin(theta)
	dot := p.Dot(v)
	return p.Mul(cosTheta).Add(v.Cross(p).Mul(sinTheta)).Add(v.Mul(dot * (1 - cosTheta)))
}

// RotatePointJacobian returns the partial derivatives of RotatePoint(p, rv) with respect to
// each of the three rotation vector components. Near the identity the first order expansion
// p + rv × p is differentiated instead, which is exact at rv = 0.
func RotatePointJacobian(p, rv r3.Vector) [3]r3.Vector {
	theta := rv.Norm()
	if theta < RotationEpsilon {
		// e_k × p
		return [3]r3.Vector{
			{X: 0, Y: -p.Z, Z: p.Y},
			{X: p.Z, Y: 0, Z: -p.X},
			{X: -p.Y, Y: p.X, Z: 0},
		}
	}
	v := rv.Mul(1 / theta)
	cosTheta := math.Cos(theta)
	sinTheta := math.Sin(theta)
	dot := p.Dot(v)
	vCrossP := v.Cross(p)

	axes := [3]r3.Vector{{X: 1}, {Y: 1}, {Z: 1}}
	components := [3]float64{v.X, v.Y, v.Z}
	var out [3]r3.Vector
	for k, ek := range axes {
		vk := components[k]
		// dθ/dw_k = v_k and dv/dw_k = (e_k - v v_k) / θ
		dv := ek.Sub(v.Mul(vk)).Mul(1 / theta)
		out[k] = p.Mul(-sinTheta * vk).
			Add(vCrossP.Mul(cosTheta * vk)).
			Add(dv.Cross(p).Mul(sinTheta)).
			Add(v.Mul(dv.Dot(p) * (1 - cosTheta))).
			Add(v.Mul(dot * sinTheta * vk)).
			Add(dv.Mul(dot * (1 - cosTheta)))
	}
	return out
}

// RotationMatrix is a row-major 3x3 rotation matrix.
type RotationMatrix struct {
	mat [9]float64
}

// NewRotationMatrixFromVector builds R = cos(θ) I + sin(θ) [v]ₓ + (1 - cos(θ)) v vᵀ for the
// rotation vector rv, returning the identity for rotations shorter than RotationEpsilon.
func NewRotationMatrixFromVector(rv r3.Vector) *RotationMatrix {
	theta := rv.Norm()
	if theta < RotationEpsilon {
		return &RotationMatrix{[9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
	}
	v := rv.Mul(1 / theta)
	c := math.Cos(theta)
	s := math.Sin(theta)
	t := 1 - c
	return &RotationMatrix{[9]float64{
		c + t*v.X*v.X, t*v.X*v.Y - s*v.Z, t*v.X*v.Z + s*v.Y,
		t*v.Y*v.X + s*v.Z, c + t*v.Y*v.Y, t*v.Y*v.Z - s*v.X,
		t*v.Z*v.X - s*v.Y, t*v.Z*v.Y + s*v.X, c + t*v.Z*v.Z,
	}}
}

// At returns the value at row, col.
func (rm *RotationMatrix) At(row, col int) float64 {
	return rm.mat[row*3+col]
}

// Row returns the row of the matrix as a vector.
func (rm *RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[row*3], Y: rm.mat[row*3+1], Z: rm.mat[row*3+2]}
}

// Col returns the column of the matrix as a vector.
func (rm *RotationMatrix) Col(col int) r3.Vector {
	return r3.Vector{X: rm.mat[col], Y: rm.mat[3+col], Z: rm.mat[6+col]}
}

// Mul returns R p.
func (rm *RotationMatrix) Mul(p r3.Vector) r3.Vector {
	return r3.Vector{X: rm.Row(0).Dot(p), Y: rm.Row(1).Dot(p), Z: rm.Row(2).Dot(p)}
}

// TransposeMul returns Rᵀ p, the inverse rotation.
func (rm *RotationMatrix) TransposeMul(p r3.Vector) r3.Vector {
	return r3.Vector{X: rm.Col(0).Dot(p), Y: rm.Col(1).Dot(p), Z: rm.Col(2).Dot(p)}
}

package camera

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/bundle/spatialmath"
)

// NumParams is the length of a camera parameter block:
// rotation vector (3), translation (3), focal length, k1, k2.
const NumParams = 9

// Offsets of the individual parameters within a camera block.
const (
	RotationOffset    = 0
	TranslationOffset = 3
	FocalOffset       = 6
	K1Offset          = 7
	K2Offset          = 8
)

// Camera is a BAL camera. Points are mapped into the camera frame as P = R(Rotation) X + Translation
// and the camera looks down its -Z axis.
type Camera struct {
	Rotation    r3.Vector        `json:"rotation"`
	Translation r3.Vector        `json:"translation"`
	Focal       float64          `json:"focal"`
	Distortion  RadialDistortion `json:"distortion"`
}

// NewCameraFromParams reads and validates a camera from a parameter block of length NumParams.
func NewCameraFromParams(params []float64) (*Camera, error) {
	if len(params) != NumParams {
		return nil, errors.Errorf("camera parameter block must have %d values, got %d", NumParams, len(params))
	}
	cam := FromParams(params)
	if err := cam.CheckValid(); err != nil {
		return nil, err
	}
	return &cam, nil
}

// FromParams reads a camera from the first NumParams values of params without checking the length.
// It is the allocation free variant used in the evaluation loops.
func FromParams(params []float64) Camera {
	return Camera{
		Rotation:    r3.Vector{X: params[0], Y: params[1], Z: params[2]},
		Translation: r3.Vector{X: params[3], Y: params[4], Z: params[5]},
		Focal:       params[FocalOffset],
		Distortion:  RadialDistortion{RadialK1: params[K1Offset], RadialK2: params[K2Offset]},
	}
}

// Distorter returns the camera's distortion model.
func (c *Camera) Distorter() Distorter {
	return &c.Distortion
}

// Params returns the camera as a parameter block.
func (c *Camera) Params() []float64 {
	out := make([]float64, NumParams)
	c.WriteParams(out)
	return out
}

// WriteParams writes the camera into the first NumParams values of dst.
func (c *Camera) WriteParams(dst []float64) {
	dst[0], dst[1], dst[2] = c.Rotation.X, c.Rotation.Y, c.Rotation.Z
	dst[3], dst[4], dst[5] = c.Translation.X, c.Translation.Y, c.Translation.Z
	dst[FocalOffset] = c.Focal
	copy(dst[K1Offset:NumParams], c.Distorter().Parameters())
}

// CheckValid checks that the pinhole parameters are finite and that the distortion model is valid.
func (c *Camera) CheckValid() error {
	pinhole := []float64{
		c.Rotation.X, c.Rotation.Y, c.Rotation.Z,
		c.Translation.X, c.Translation.Y, c.Translation.Z,
		c.Focal,
	}
	for i, v := range pinhole {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("camera parameter %d is not finite (%v)", i, v)
		}
	}
	return c.Distorter().CheckValid()
}

// ToCameraFrame maps a world point into the camera frame.
func (c *Camera) ToCameraFrame(point r3.Vector) r3.Vector {
	return spatialmath.RotatePoint(point, c.Rotation).Add(c.Translation)
}

// Project maps a world point to a pixel: rotate, translate, divide by -z, distort, scale by the
// focal length. A point on the camera plane (z == 0) yields non-finite pixels.
func (c *Camera) Project(point r3.Vector) r2.Point {
	p := c.ToCameraFrame(point)
	xd, yd := c.Distortion.Transform(-p.X/p.Z, -p.Y/p.Z)
	return r2.Point{X: c.Focal * xd, Y: c.Focal * yd}
}

// Jacobian holds the derivatives of a projected pixel (rows u, v) with respect to the camera
// block and the point block.
type Jacobian struct {
	Camera [2][NumParams]float64
	Point  [2][3]float64
}

// ProjectWithJacobian projects a world point and returns the analytic derivatives of the pixel.
func (c *Camera) ProjectWithJacobian(point r3.Vector) (r2.Point, Jacobian) {
	var jac Jacobian
	p := c.ToCameraFrame(point)
	invZ := 1 / p.Z
	x := -p.X * invZ
	y := -p.Y * invZ
	n := x*x + y*y
	r := c.Distortion.Factor(n)
	xd, yd := c.Distortion.Transform(x, y)
	pixel := r2.Point{X: c.Focal * xd, Y: c.Focal * yd}

	// d(u,v)/d(x,y)
	dr := c.Distortion.FactorDerivative(n)
	duDx := c.Focal * (r + 2*x*x*dr)
	duDy := c.Focal * 2 * x * y * dr
	dvDx := duDy
	dvDy := c.Focal * (r + 2*y*y*dr)

	// d(x,y)/dP
	dxDp := r3.Vector{X: -invZ, Y: 0, Z: p.X * invZ * invZ}
	dyDp := r3.Vector{X: 0, Y: -invZ, Z: p.Y * invZ * invZ}

	// d(u,v)/dP, which is also the derivative with respect to the translation
	duDp := dxDp.Mul(duDx).Add(dyDp.Mul(duDy))
	dvDp := dxDp.Mul(dvDx).Add(dyDp.Mul(dvDy))

	rotationJac := spatialmath.RotatePointJacobian(point, c.Rotation)
	for k := 0; k < 3; k++ {
		jac.Camera[0][RotationOffset+k] = duDp.Dot(rotationJac[k])
		jac.Camera[1][RotationOffset+k] = dvDp.Dot(rotationJac[k])
	}
	jac.Camera[0][TranslationOffset], jac.Camera[0][TranslationOffset+1], jac.Camera[0][TranslationOffset+2] = duDp.X, duDp.Y, duDp.Z
	jac.Camera[1][TranslationOffset], jac.Camera[1][TranslationOffset+1], jac.Camera[1][TranslationOffset+2] = dvDp.X, dvDp.Y, dvDp.Z

	jac.Camera[0][FocalOffset] = x * r
	jac.Camera[1][FocalOffset] = y * r
	jac.Camera[0][K1Offset] = c.Focal * x * n
	jac.Camera[1][K1Offset] = c.Focal * y * n
	jac.Camera[0][K2Offset] = c.Focal * x * n * n
	jac.Camera[1][K2Offset] = c.Focal * y * n * n

	// dP/dX is the rotation matrix
	rot := spatialmath.NewRotationMatrixFromVector(c.Rotation)
	for j := 0; j < 3; j++ {
		col := rot.Col(j)
		jac.Point[0][j] = duDp.Dot(col)
		jac.Point[1][j] = dvDp.Dot(col)
	}
	return pixel, jac
}

// Center returns the camera centre in world coordinates, -Rᵀ t.
func (c *Camera) Center() r3.Vector {
	rot := spatialmath.NewRotationMatrixFromVector(c.Rotation)
	return rot.TransposeMul(c.Translation).Mul(-1)
}

// String returns a compact one line description of the camera.
func (c *Camera) String() string {
	return fmt.Sprintf("rot:[%.3e %.3e %.3e] t:[%.3e %.3e %.3e] f:%.3e k1:%.3e k2:%.3e",
		c.Rotation.X, c.Rotation.Y, c.Rotation.Z,
		c.Translation.X, c.Translation.Y, c.Translation.Z,
		c.Focal, c.Distortion.RadialK1, c.Distortion.RadialK2)
}

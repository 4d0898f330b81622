// Package camera implements the BAL pinhole camera with two-coefficient radial distortion and
// its projection derivatives.
package camera

import "github.com/pkg/errors"

// Distorter maps an undistorted normalized image point to its distorted position.
type Distorter interface {
	CheckValid() error
	Parameters() []float64
	Transform(x, y float64) (float64, float64)
}

// InvalidDistortionError is used when the distortion parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errors.New("invalid distortion parameters"), msg)
}

package sparse

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	cameraBlockLen = ResidualsPerObservation * CameraBlockSize
	pointBlockLen  = ResidualsPerObservation * PointBlockSize
)

// BlockJacobian stores, for every observation, the 2×9 derivative block with respect to its
// camera and the 2×3 block with respect to its point, both row-major. Entries outside these
// blocks do not exist.
type BlockJacobian struct {
	pattern *Pattern
	camera  []float64
	point   []float64
}

// NewBlockJacobian allocates zeroed storage for the given pattern.
func NewBlockJacobian(pattern *Pattern) *BlockJacobian {
	nObs := pattern.NumObservations()
	return &BlockJacobian{
		pattern: pattern,
		camera:  make([]float64, nObs*cameraBlockLen),
		point:   make([]float64, nObs*pointBlockLen),
	}
}

// Pattern returns the pattern the Jacobian was built for.
func (j *BlockJacobian) Pattern() *Pattern { return j.pattern }

// CameraBlock returns the row-major 2×9 camera block of an observation. Writes to the returned
// slice change the Jacobian.
func (j *BlockJacobian) CameraBlock(obs int) []float64 {
	return j.camera[obs*cameraBlockLen : (obs+1)*cameraBlockLen]
}

// PointBlock returns the row-major 2×3 point block of an observation. Writes to the returned
// slice change the Jacobian.
func (j *BlockJacobian) PointBlock(obs int) []float64 {
	return j.point[obs*pointBlockLen : (obs+1)*pointBlockLen]
}

// Set writes both blocks of an observation. Observations are independent slots, so concurrent
// Sets for distinct observations are safe.
func (j *BlockJacobian) Set(obs int, cameraRows [ResidualsPerObservation][CameraBlockSize]float64,
	pointRows [ResidualsPerObservation][PointBlockSize]float64,
) {
	cb := j.CameraBlock(obs)
	pb := j.PointBlock(obs)
	for r := 0; r < ResidualsPerObservation; r++ {
		copy(cb[r*CameraBlockSize:(r+1)*CameraBlockSize], cameraRows[r][:])
		copy(pb[r*PointBlockSize:(r+1)*PointBlockSize], pointRows[r][:])
	}
}

// Zero clears every block.
func (j *BlockJacobian) Zero() {
	for i := range j.camera {
		j.camera[i] = 0
	}
	for i := range j.point {
		j.point[i] = 0
	}
}

// MulVec computes out = J x.
func (j *BlockJacobian) MulVec(x, out []float64) error {
	if len(x) != j.pattern.Cols() || len(out) != j.pattern.Rows() {
		return errors.Errorf("dimension mismatch: J is %dx%d, x has %d, out has %d",
			j.pattern.Rows(), j.pattern.Cols(), len(x), len(out))
	}
	for obs := 0; obs < j.pattern.NumObservations(); obs++ {
		xc := x[j.pattern.CameraColumn(obs):]
		xp := x[j.pattern.PointColumn(obs):]
		cb := j.CameraBlock(obs)
		pb := j.PointBlock(obs)
		for r := 0; r < ResidualsPerObservation; r++ {
			var sum float64
			for k := 0; k < CameraBlockSize; k++ {
				sum += cb[r*CameraBlockSize+k] * xc[k]
			}
			for k := 0; k < PointBlockSize; k++ {
				sum += pb[r*PointBlockSize+k] * xp[k]
			}
			out[obs*ResidualsPerObservation+r] = sum
		}
	}
	return nil
}

// MulTransVec computes out = Jᵗ r.
func (j *BlockJacobian) MulTransVec(r, out []float64) error {
	if len(r) != j.pattern.Rows() || len(out) != j.pattern.Cols() {
		return errors.Errorf("dimension mismatch: Jᵗ is %dx%d, r has %d, out has %d",
			j.pattern.Cols(), j.pattern.Rows(), len(r), len(out))
	}
	for i := range out {
		out[i] = 0
	}
	for obs := 0; obs < j.pattern.NumObservations(); obs++ {
		oc := out[j.pattern.CameraColumn(obs):]
		op := out[j.pattern.PointColumn(obs):]
		cb := j.CameraBlock(obs)
		pb := j.PointBlock(obs)
		for row := 0; row < ResidualsPerObservation; row++ {
			rv := r[obs*ResidualsPerObservation+row]
			for k := 0; k < CameraBlockSize; k++ {
				oc[k] += cb[row*CameraBlockSize+k] * rv
			}
			for k := 0; k < PointBlockSize; k++ {
				op[k] += pb[row*PointBlockSize+k] * rv
			}
		}
	}
	return nil
}

// Dense expands the Jacobian into a dense matrix. It returns nil for an empty pattern.
func (j *BlockJacobian) Dense() *mat.Dense {
	rows, cols := j.pattern.Rows(), j.pattern.Cols()
	if rows == 0 || cols == 0 {
		return nil
	}
	m := mat.NewDense(rows, cols, nil)
	for obs := 0; obs < j.pattern.NumObservations(); obs++ {
		camCol := j.pattern.CameraColumn(obs)
		ptCol := j.pattern.PointColumn(obs)
		cb := j.CameraBlock(obs)
		pb := j.PointBlock(obs)
		for r := 0; r < ResidualsPerObservation; r++ {
			row := obs*ResidualsPerObservation + r
			for k := 0; k < CameraBlockSize; k++ {
				m.Set(row, camCol+k, cb[r*CameraBlockSize+k])
			}
			for k := 0; k < PointBlockSize; k++ {
				m.Set(row, ptCol+k, pb[r*PointBlockSize+k])
			}
		}
	}
	return m
}

// Package schur solves the damped normal equations of a bundle adjustment problem by
// eliminating the point blocks and factoring the reduced camera system.
package schur

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/bundle/sparse"
	"go.viam.com/bundle/utils"
)

const (
	// MinDiagonal is the smallest value of diag(JᵗJ) used for damping.
	MinDiagonal = 1e-6
	// MaxDiagonal is the largest value of diag(JᵗJ) used for damping.
	MaxDiagonal = 1e32

	camSize   = sparse.CameraBlockSize
	ptSize    = sparse.PointBlockSize
	camBlock  = camSize * camSize
	ptBlock   = ptSize * ptSize
	pairBlock = camSize * ptSize
)

// ErrNotPositiveDefinite is returned by Solve when a damped point block or the reduced camera
// system cannot be factored. The damping is too small; callers raise it and solve again.
var ErrNotPositiveDefinite = errors.New("damped normal equations are not positive definite")

// System holds the blocks of the normal equations JᵗJ δ = -Jᵗr for one Jacobian:
//
//	[ B   E ] [δc]   [g_c]
//	[ Eᵗ  C ] [δp] = [g_p] (negated)
//
// B is block diagonal with one 9×9 block per camera, C is block diagonal with one 3×3 block per
// point and E has one 9×3 block per observed camera/point pair. Storage is allocated once and
// reused for every Accumulate.
type System struct {
	pattern *sparse.Pattern
	workers int

	b    []float64 // nCameras 9×9 blocks
	e    []float64 // len(pairs) 9×3 blocks
	c    []float64 // nPoints 3×3 blocks
	g    []float64 // Jᵗr
	diag []float64 // diag(JᵗJ)
}

// NewSystem allocates a system for the given pattern. Accumulation fans out over at most
// workers goroutines.
func NewSystem(pattern *sparse.Pattern, workers int) *System {
	return &System{
		pattern: pattern,
		workers: workers,
		b:       make([]float64, pattern.NumCameras()*camBlock),
		e:       make([]float64, len(pattern.Pairs())*pairBlock),
		c:       make([]float64, pattern.NumPoints()*ptBlock),
		g:       make([]float64, pattern.Cols()),
		diag:    make([]float64, pattern.Cols()),
	}
}

// Pattern returns the pattern the system was built for.
func (s *System) Pattern() *sparse.Pattern { return s.pattern }

// Accumulate forms the normal equations from a Jacobian and the residuals it was evaluated at.
// Cameras and points are accumulated in parallel; every camera and every point owns its
// output blocks so no locking is needed.
func (s *System) Accumulate(ctx context.Context, jac *sparse.BlockJacobian, residuals []float64) error {
	if jac.Pattern() != s.pattern {
		return errors.New("jacobian was built for a different pattern")
	}
	if len(residuals) != s.pattern.Rows() {
		return errors.Errorf("expected %d residuals, got %d", s.pattern.Rows(), len(residuals))
	}
	nCamParams := s.pattern.NumCameraParams()

	if err := utils.GroupWorkParallelN(ctx, s.workers, s.pattern.NumCameras(), nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, cam int) {
				blk := s.b[cam*camBlock : (cam+1)*camBlock]
				gc := s.g[cam*camSize : (cam+1)*camSize]
				zero(blk)
				zero(gc)
				for _, obs := range s.pattern.ObservationsOfCamera(cam) {
					cb := jac.CameraBlock(obs)
					for row := 0; row < sparse.ResidualsPerObservation; row++ {
						jr := cb[row*camSize : (row+1)*camSize]
						rv := residuals[obs*sparse.ResidualsPerObservation+row]
						for i := 0; i < camSize; i++ {
							gc[i] += jr[i] * rv
							for j := 0; j < camSize; j++ {
								blk[i*camSize+j] += jr[i] * jr[j]
							}
						}
					}
				}
				for i := 0; i < camSize; i++ {
					s.diag[cam*camSize+i] = blk[i*camSize+i]
				}
			}, nil
		}); err != nil {
		return err
	}

	return utils.GroupWorkParallelN(ctx, s.workers, s.pattern.NumPoints(), nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, point int) {
				blk := s.c[point*ptBlock : (point+1)*ptBlock]
				gp := s.g[nCamParams+point*ptSize : nCamParams+(point+1)*ptSize]
				zero(blk)
				zero(gp)
				pairFrom, pairTo := s.pattern.PointPairRange(point)
				zero(s.e[pairFrom*pairBlock : pairTo*pairBlock])
				for _, obs := range s.pattern.ObservationsOfPoint(point) {
					cb := jac.CameraBlock(obs)
					pb := jac.PointBlock(obs)
					eb := s.e[s.pattern.PairIndex(obs)*pairBlock:]
					for row := 0; row < sparse.ResidualsPerObservation; row++ {
						jc := cb[row*camSize : (row+1)*camSize]
						jp := pb[row*ptSize : (row+1)*ptSize]
						rv := residuals[obs*sparse.ResidualsPerObservation+row]
						for i := 0; i < ptSize; i++ {
							gp[i] += jp[i] * rv
							for j := 0; j < ptSize; j++ {
								blk[i*ptSize+j] += jp[i] * jp[j]
							}
						}
						for i := 0; i < camSize; i++ {
							for j := 0; j < ptSize; j++ {
								eb[i*ptSize+j] += jc[i] * jp[j]
							}
						}
					}
				}
				for i := 0; i < ptSize; i++ {
					s.diag[nCamParams+point*ptSize+i] = blk[i*ptSize+i]
				}
			}, nil
		})
}

// Gradient returns Jᵗr from the last Accumulate. The slice is owned by the system.
func (s *System) Gradient() []float64 { return s.g }

// GradientMaxNorm returns the infinity norm of Jᵗr.
func (s *System) GradientMaxNorm() float64 {
	var norm float64
	for _, v := range s.g {
		norm = math.Max(norm, math.Abs(v))
	}
	return norm
}

// Diagonal returns diag(JᵗJ) clamped to [MinDiagonal, MaxDiagonal], the scaling used for damping.
func (s *System) Diagonal() []float64 {
	out := make([]float64, len(s.diag))
	for i, v := range s.diag {
		out[i] = utils.Clamp(v, MinDiagonal, MaxDiagonal)
	}
	return out
}

// ModelReduction returns the decrease in cost predicted by the linearized model for a step
// solved with the given damping, ½ δᵗ(λDδ - g).
func (s *System) ModelReduction(delta []float64, lambda float64) float64 {
	var sum float64
	for i, d := range delta {
		dd := utils.Clamp(s.diag[i], MinDiagonal, MaxDiagonal)
		sum += d * (lambda*dd*d - s.g[i])
	}
	return 0.5 * sum
}

// NormalMatrix expands the undamped JᵗJ into a dense symmetric matrix. It returns nil when the
// problem has no parameters.
func (s *System) NormalMatrix() *mat.SymDense {
	n := s.pattern.Cols()
	if n == 0 {
		return nil
	}
	nCamParams := s.pattern.NumCameraParams()
	m := mat.NewSymDense(n, nil)
	for cam := 0; cam < s.pattern.NumCameras(); cam++ {
		blk := s.b[cam*camBlock:]
		for i := 0; i < camSize; i++ {
			for j := i; j < camSize; j++ {
				m.SetSym(cam*camSize+i, cam*camSize+j, blk[i*camSize+j])
			}
		}
	}
	for point := 0; point < s.pattern.NumPoints(); point++ {
		blk := s.c[point*ptBlock:]
		base := nCamParams + point*ptSize
		for i := 0; i < ptSize; i++ {
			for j := i; j < ptSize; j++ {
				m.SetSym(base+i, base+j, blk[i*ptSize+j])
			}
		}
	}
	for idx, pair := range s.pattern.Pairs() {
		eb := s.e[idx*pairBlock:]
		for i := 0; i < camSize; i++ {
			for j := 0; j < ptSize; j++ {
				m.SetSym(pair.Camera*camSize+i, nCamParams+pair.Point*ptSize+j, eb[i*ptSize+j])
			}
		}
	}
	return m
}

func zero(v []float64) {
	for i := range v {
		v[i] = 0
	}
}

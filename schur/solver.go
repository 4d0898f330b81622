package schur

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/bundle/utils"
)

// Solve returns the step δ solving (JᵗJ + λD)δ = -Jᵗr, cameras first then points, where D is
// the clamped diagonal of JᵗJ. It does not modify the accumulated system, so it may be called
// again with a larger λ after a rejected step. ErrNotPositiveDefinite means λ is too small.
func (s *System) Solve(lambda float64) ([]float64, error) {
	nCams := s.pattern.NumCameras()
	nPoints := s.pattern.NumPoints()
	nCamParams := s.pattern.NumCameraParams()
	delta := make([]float64, s.pattern.Cols())

	// damped point blocks, inverted
	cInv := make([]mat3, nPoints)
	for point := 0; point < nPoints; point++ {
		var blk mat3
		copy(blk[:], s.c[point*ptBlock:(point+1)*ptBlock])
		for i := 0; i < ptSize; i++ {
			blk[i*ptSize+i] += lambda * s.dampingAt(nCamParams+point*ptSize+i)
		}
		inv, ok := invertSPD3(&blk)
		if !ok {
			return nil, ErrNotPositiveDefinite
		}
		cInv[point] = inv
	}

	if nCams > 0 {
		deltaCams, err := s.solveReducedCameraSystem(lambda, cInv)
		if err != nil {
			return nil, err
		}
		copy(delta, deltaCams)
	}

	// back substitution: δp = C⁻¹(-g_p - Eᵗδc)
	pairs := s.pattern.Pairs()
	for point := 0; point < nPoints; point++ {
		base := nCamParams + point*ptSize
		var rhs [3]float64
		for i := 0; i < ptSize; i++ {
			rhs[i] = -s.g[base+i]
		}
		from, to := s.pattern.PointPairRange(point)
		for idx := from; idx < to; idx++ {
			eb := s.e[idx*pairBlock:]
			dc := delta[pairs[idx].Camera*camSize:]
			for j := 0; j < ptSize; j++ {
				var sum float64
				for i := 0; i < camSize; i++ {
					sum += eb[i*ptSize+j] * dc[i]
				}
				rhs[j] -= sum
			}
		}
		dp := mulVec3(&cInv[point], rhs[:])
		copy(delta[base:base+ptSize], dp[:])
	}

	for _, v := range delta {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrNotPositiveDefinite
		}
	}
	return delta, nil
}

// solveReducedCameraSystem forms S = B + λD_c - E C⁻¹ Eᵗ and rhs = -g_c + E C⁻¹ g_p, then solves
// S δc = rhs by Cholesky. With no points the elimination terms vanish and this is the damped
// camera system on its own.
func (s *System) solveReducedCameraSystem(lambda float64, cInv []mat3) ([]float64, error) {
	nCams := s.pattern.NumCameras()
	nCamParams := s.pattern.NumCameraParams()
	n := nCamParams

	sData := make([]float64, n*n)
	rhs := make([]float64, n)
	for cam := 0; cam < nCams; cam++ {
		blk := s.b[cam*camBlock:]
		base := cam * camSize
		for i := 0; i < camSize; i++ {
			for j := 0; j < camSize; j++ {
				sData[(base+i)*n+base+j] = blk[i*camSize+j]
			}
			sData[(base+i)*n+base+i] += lambda * s.dampingAt(base+i)
			rhs[base+i] = -s.g[base+i]
		}
	}

	pairs := s.pattern.Pairs()
	var f [pairBlock]float64
	for point := 0; point < s.pattern.NumPoints(); point++ {
		from, to := s.pattern.PointPairRange(point)
		gp := s.g[nCamParams+point*ptSize : nCamParams+(point+1)*ptSize]
		ci := &cInv[point]
		for a := from; a < to; a++ {
			ea := s.e[a*pairBlock:]
			// f = E_a C⁻¹
			for i := 0; i < camSize; i++ {
				for j := 0; j < ptSize; j++ {
					f[i*ptSize+j] = ea[i*ptSize]*ci[j] + ea[i*ptSize+1]*ci[ptSize+j] + ea[i*ptSize+2]*ci[2*ptSize+j]
				}
			}
			rowBase := pairs[a].Camera * camSize
			for i := 0; i < camSize; i++ {
				rhs[rowBase+i] += f[i*ptSize]*gp[0] + f[i*ptSize+1]*gp[1] + f[i*ptSize+2]*gp[2]
			}
			for b := from; b < to; b++ {
				colBase := pairs[b].Camera * camSize
				if colBase < rowBase {
					continue
				}
				eb := s.e[b*pairBlock:]
				for i := 0; i < camSize; i++ {
					fi := f[i*ptSize : (i+1)*ptSize]
					row := sData[(rowBase+i)*n:]
					for j := 0; j < camSize; j++ {
						row[colBase+j] -= fi[0]*eb[j*ptSize] + fi[1]*eb[j*ptSize+1] + fi[2]*eb[j*ptSize+2]
					}
				}
			}
		}
	}

	// only the upper triangle of sData is complete; SymDense reads nothing else
	sym := mat.NewSymDense(n, sData)
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, ErrNotPositiveDefinite
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, mat.NewVecDense(n, rhs)); err != nil {
		// an ill-conditioned but factored system still yields a usable step
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, err
		}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = x.AtVec(i)
	}
	return out, nil
}

func (s *System) dampingAt(i int) float64 {
	return utils.Clamp(s.diag[i], MinDiagonal, MaxDiagonal)
}

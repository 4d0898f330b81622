// Package sparse holds the fixed block structure of a bundle adjustment Jacobian and the
// per-observation derivative blocks stored in it.
package sparse

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

const (
	// CameraBlockSize is the number of parameters in one camera block.
	CameraBlockSize = 9
	// PointBlockSize is the number of parameters in one point block.
	PointBlockSize = 3
	// ResidualsPerObservation is the number of residual rows each observation contributes.
	ResidualsPerObservation = 2
	// ColumnsPerRow is the number of structurally nonzero columns in every Jacobian row.
	ColumnsPerRow = CameraBlockSize + PointBlockSize
)

// Pair is a camera and point observed together at least once. Repeated observations of the same
// pair share a Pair; their contributions to the normal equations add.
type Pair struct {
	Camera int
	Point  int
}

// Pattern is the block sparsity structure of the Jacobian. It depends only on the observation
// index arrays and never changes once built.
type Pattern struct {
	nCameras      int
	nPoints       int
	cameraIndices []int
	pointIndices  []int

	// unique camera/point pairs ordered by point then camera
	pairs     []Pair
	pairOfObs []int
	// pairs of point p are pairs[pointPairStart[p]:pointPairStart[p+1]]
	pointPairStart []int

	// observations grouped by point and by camera in CSR layout
	obsByPoint       []int
	obsByPointStart  []int
	obsByCamera      []int
	obsByCameraStart []int
}

// NewPattern builds the pattern for the given observations. Indices are trusted to be in range;
// validation belongs to the caller.
func NewPattern(nCameras, nPoints int, cameraIndices, pointIndices []int) *Pattern {
	nObs := len(cameraIndices)
	p := &Pattern{
		nCameras:      nCameras,
		nPoints:       nPoints,
		cameraIndices: append([]int(nil), cameraIndices...),
		pointIndices:  append([]int(nil), pointIndices...),
		pairOfObs:     make([]int, nObs),
	}
	p.obsByPoint, p.obsByPointStart = groupBy(nPoints, p.pointIndices)
	p.obsByCamera, p.obsByCameraStart = groupBy(nCameras, p.cameraIndices)

	p.pointPairStart = make([]int, nPoints+1)
	for point := 0; point < nPoints; point++ {
		p.pointPairStart[point] = len(p.pairs)
		obs := p.ObservationsOfPoint(point)
		sorted := append([]int(nil), obs...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return p.cameraIndices[sorted[i]] < p.cameraIndices[sorted[j]]
		})
		for i, o := range sorted {
			cam := p.cameraIndices[o]
			if i == 0 || p.cameraIndices[sorted[i-1]] != cam {
				p.pairs = append(p.pairs, Pair{Camera: cam, Point: point})
			}
			p.pairOfObs[o] = len(p.pairs) - 1
		}
	}
	p.pointPairStart[nPoints] = len(p.pairs)
	return p
}

// groupBy buckets observation numbers by key into a CSR layout, keeping observation order
// within a bucket.
func groupBy(nKeys int, keys []int) ([]int, []int) {
	start := make([]int, nKeys+1)
	for _, k := range keys {
		start[k+1]++
	}
	for k := 0; k < nKeys; k++ {
		start[k+1] += start[k]
	}
	next := append([]int(nil), start[:nKeys]...)
	grouped := make([]int, len(keys))
	for obs, k := range keys {
		grouped[next[k]] = obs
		next[k]++
	}
	return grouped, start
}

// NumCameras returns the number of cameras.
func (p *Pattern) NumCameras() int { return p.nCameras }

// NumPoints returns the number of points.
func (p *Pattern) NumPoints() int { return p.nPoints }

// NumObservations returns the number of observations.
func (p *Pattern) NumObservations() int { return len(p.cameraIndices) }

// Rows returns the number of Jacobian rows, two per observation.
func (p *Pattern) Rows() int { return ResidualsPerObservation * len(p.cameraIndices) }

// Cols returns the number of Jacobian columns, the length of the parameter vector.
func (p *Pattern) Cols() int { return CameraBlockSize*p.nCameras + PointBlockSize*p.nPoints }

// NumCameraParams returns the length of the camera part of the parameter vector.
func (p *Pattern) NumCameraParams() int { return CameraBlockSize * p.nCameras }

// Camera returns the camera index of an observation.
func (p *Pattern) Camera(obs int) int { return p.cameraIndices[obs] }

// Point returns the point index of an observation.
func (p *Pattern) Point(obs int) int { return p.pointIndices[obs] }

// CameraColumn returns the first column of the camera block an observation touches.
func (p *Pattern) CameraColumn(obs int) int {
	return p.cameraIndices[obs] * CameraBlockSize
}

// PointColumn returns the first column of the point block an observation touches.
func (p *Pattern) PointColumn(obs int) int {
	return p.nCameras*CameraBlockSize + p.pointIndices[obs]*PointBlockSize
}

// RowColumns returns the ColumnsPerRow structurally nonzero columns of a Jacobian row, camera
// columns first.
func (p *Pattern) RowColumns(row int) []int {
	obs := row / ResidualsPerObservation
	cols := make([]int, 0, ColumnsPerRow)
	camCol := p.CameraColumn(obs)
	for i := 0; i < CameraBlockSize; i++ {
		cols = append(cols, camCol+i)
	}
	ptCol := p.PointColumn(obs)
	for i := 0; i < PointBlockSize; i++ {
		cols = append(cols, ptCol+i)
	}
	return cols
}

// NumNonZeroBlocks returns the number of nonzero blocks: one camera block and one point block
// per observation.
func (p *Pattern) NumNonZeroBlocks() int {
	return 2 * len(p.cameraIndices)
}

// NumNonZeros returns the number of structurally nonzero Jacobian entries.
func (p *Pattern) NumNonZeros() int {
	return p.Rows() * ColumnsPerRow
}

// Pairs returns the unique camera/point pairs ordered by point then camera.
func (p *Pattern) Pairs() []Pair { return p.pairs }

// PairIndex returns the index into Pairs of the pair an observation belongs to.
func (p *Pattern) PairIndex(obs int) int { return p.pairOfObs[obs] }

// PointPairRange returns the range of Pairs that involve the given point.
func (p *Pattern) PointPairRange(point int) (int, int) {
	return p.pointPairStart[point], p.pointPairStart[point+1]
}

// PointPairs returns the pairs that involve the given point.
func (p *Pattern) PointPairs(point int) []Pair {
	from, to := p.PointPairRange(point)
	return p.pairs[from:to]
}

// ObservationsOfPoint returns the observations of a point in observation order.
func (p *Pattern) ObservationsOfPoint(point int) []int {
	return p.obsByPoint[p.obsByPointStart[point]:p.obsByPointStart[point+1]]
}

// ObservationsOfCamera returns the observations made by a camera in observation order.
func (p *Pattern) ObservationsOfCamera(cam int) []int {
	return p.obsByCamera[p.obsByCameraStart[cam]:p.obsByCameraStart[cam+1]]
}

// Dense returns the pattern as a 0/1 matrix. It returns nil for an empty pattern, which gonum
// cannot represent.
func (p *Pattern) Dense() *mat.Dense {
	rows, cols := p.Rows(), p.Cols()
	if rows == 0 || cols == 0 {
		return nil
	}
	m := mat.NewDense(rows, cols, nil)
	for row := 0; row < rows; row++ {
		for _, col := range p.RowColumns(row) {
			m.Set(row, col, 1)
		}
	}
	return m
}

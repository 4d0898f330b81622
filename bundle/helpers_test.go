package bundle

import (
	"math/rand"

	"github.com/golang/geo/r3"

	"go.viam.com/bundle/camera"
)

// syntheticProblem is a problem whose pixels are generated from known cameras and points.
type syntheticProblem struct {
	cameras       [][]float64
	points        [][]float64
	cameraIndices []int
	pointIndices  []int
	pixels        [][]float64
}

func project(cam, point []float64) []float64 {
	c := camera.FromParams(cam)
	px := c.Project(r3.Vector{X: point[0], Y: point[1], Z: point[2]})
	return []float64{px.X, px.Y}
}

func copyRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// twoViewProblem is two unrotated cameras offset along z looking at two points, every camera
// seeing every point.
func twoViewProblem() *syntheticProblem {
	p := &syntheticProblem{
		cameras: [][]float64{
			{0, 0, 0, -0.5, 0, 5, 500, 0, 0},
			{0, 0, 0, 0.5, 0, 5, 500, 0, 0},
		},
		points: [][]float64{
			{1.0, 0.5, -10},
			{-0.8, -1.2, -9},
		},
		cameraIndices: []int{0, 1, 0, 1},
		pointIndices:  []int{0, 0, 1, 1},
	}
	for i := range p.cameraIndices {
		p.pixels = append(p.pixels, project(p.cameras[p.cameraIndices[i]], p.points[p.pointIndices[i]]))
	}
	return p
}

// ringProblem places cameras on a ring around a cloud of points with mild rotations and
// distortion, every camera seeing every point.
func ringProblem(rng *rand.Rand, nCameras, nPoints int) *syntheticProblem {
	p := &syntheticProblem{}
	for i := 0; i < nCameras; i++ {
		p.cameras = append(p.cameras, []float64{
			0.05 * rng.NormFloat64(), 0.05 * rng.NormFloat64(), 0.05 * rng.NormFloat64(),
			float64(i) - float64(nCameras)/2, 0.3 * rng.NormFloat64(), 8,
			600 + 20*rng.NormFloat64(), -0.02, 0.001,
		})
	}
	for i := 0; i < nPoints; i++ {
		p.points = append(p.points, []float64{
			2 * rng.NormFloat64(), 2 * rng.NormFloat64(), -20 + rng.NormFloat64(),
		})
	}
	for c := 0; c < nCameras; c++ {
		for pt := 0; pt < nPoints; pt++ {
			p.cameraIndices = append(p.cameraIndices, c)
			p.pointIndices = append(p.pointIndices, pt)
			p.pixels = append(p.pixels, project(p.cameras[c], p.points[pt]))
		}
	}
	return p
}

// perturbed returns copies of the cameras and points with gaussian noise of the given scales
// added to the translations and point coordinates.
func (p *syntheticProblem) perturbed(rng *rand.Rand, cameraScale, pointScale float64) ([][]float64, [][]float64) {
	cams := copyRows(p.cameras)
	for _, cam := range cams {
		for k := 3; k < 6; k++ {
			cam[k] += cameraScale * rng.NormFloat64()
		}
	}
	points := copyRows(p.points)
	for _, pt := range points {
		for k := range pt {
			pt[k] += pointScale * rng.NormFloat64()
		}
	}
	return cams, points
}

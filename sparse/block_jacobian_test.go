package sparse

import (
	"math/rand"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func randomJacobian(t *testing.T, rng *rand.Rand, p *Pattern) *BlockJacobian {
	t.Helper()
	jac := NewBlockJacobian(p)
	for obs := 0; obs < p.NumObservations(); obs++ {
		var cam [2][9]float64
		var pt [2][3]float64
		for r := 0; r < 2; r++ {
			for k := range cam[r] {
				cam[r][k] = rng.NormFloat64()
			}
			for k := range pt[r] {
				pt[r][k] = rng.NormFloat64()
			}
		}
		jac.Set(obs, cam, pt)
	}
	return jac
}

func TestBlockJacobianOnlyDeclaredPositions(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := NewPattern(3, 4, []int{0, 2, 1, 1, 0, 2}, []int{3, 0, 1, 1, 2, 3})
	jac := randomJacobian(t, rng, p)

	dense := jac.Dense()
	mask := p.Dense()
	rows, cols := dense.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if mask.At(r, c) == 0 {
				test.That(t, dense.At(r, c), test.ShouldEqual, 0.)
			}
		}
	}
}

func TestBlockJacobianProducts(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	p := NewPattern(3, 4, []int{0, 2, 1, 1, 0, 2, 1}, []int{3, 0, 1, 1, 2, 3, 0})
	jac := randomJacobian(t, rng, p)
	dense := jac.Dense()

	x := make([]float64, p.Cols())
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	out := make([]float64, p.Rows())
	test.That(t, jac.MulVec(x, out), test.ShouldBeNil)

	var expected mat.VecDense
	expected.MulVec(dense, mat.NewVecDense(len(x), x))
	for i := range out {
		test.That(t, out[i], test.ShouldAlmostEqual, expected.AtVec(i), 1e-12)
	}

	r := make([]float64, p.Rows())
	for i := range r {
		r[i] = rng.NormFloat64()
	}
	grad := make([]float64, p.Cols())
	test.That(t, jac.MulTransVec(r, grad), test.ShouldBeNil)
	expected.Reset()
	expected.MulVec(dense.T(), mat.NewVecDense(len(r), r))
	for i := range grad {
		test.That(t, grad[i], test.ShouldAlmostEqual, expected.AtVec(i), 1e-12)
	}

	test.That(t, jac.MulVec(x[:3], out), test.ShouldNotBeNil)
	test.That(t, jac.MulTransVec(r, grad[:1]), test.ShouldNotBeNil)
}

func TestBlockJacobianZero(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	p := NewPattern(1, 1, []int{0}, []int{0})
	jac := randomJacobian(t, rng, p)
	test.That(t, jac.CameraBlock(0)[0], test.ShouldNotEqual, 0.)
	jac.Zero()
	test.That(t, jac.CameraBlock(0), test.ShouldResemble, make([]float64, 18))
	test.That(t, jac.PointBlock(0), test.ShouldResemble, make([]float64, 6))
	test.That(t, jac.Pattern(), test.ShouldEqual, p)
}

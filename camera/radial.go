package camera

import "math"

// RadialDistortion is the two coefficient radial model of BAL cameras.
type RadialDistortion struct {
	RadialK1 float64 `json:"rk1"`
	RadialK2 float64 `json:"rk2"`
}

// CheckValid checks if the fields for RadialDistortion have valid inputs.
func (rd *RadialDistortion) CheckValid() error {
	if rd == nil {
		return InvalidDistortionError("radial distortion parameters not provided")
	}
	if math.IsNaN(rd.RadialK1) || math.IsInf(rd.RadialK1, 0) || math.IsNaN(rd.RadialK2) || math.IsInf(rd.RadialK2, 0) {
		return InvalidDistortionError("radial coefficients must be finite")
	}
	return nil
}

// Parameters returns the distortion parameters as a list of floats.
func (rd *RadialDistortion) Parameters() []float64 {
	if rd == nil {
		return []float64{}
	}
	return []float64{rd.RadialK1, rd.RadialK2}
}

// Factor returns r = 1 + k1*n + k2*n² for the squared normalized radius n. The terms are
// evaluated in that order so results are bit-for-bit comparable with reference residuals.
func (rd *RadialDistortion) Factor(n float64) float64 {
	return 1 + rd.RadialK1*n + rd.RadialK2*(n*n)
}

// FactorDerivative returns dr/dn.
func (rd *RadialDistortion) FactorDerivative(n float64) float64 {
	return rd.RadialK1 + 2*rd.RadialK2*n
}

// Transform scales the normalized point (x, y) by the radial factor.
func (rd *RadialDistortion) Transform(x, y float64) (float64, float64) {
	if rd == nil {
		return x, y
	}
	r := rd.Factor(x*x + y*y)
	return x * r, y * r
}

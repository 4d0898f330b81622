package schur

// pivotTolerance is the smallest ratio of a leading minor to the product of the matching
// diagonal entries for which a 3×3 block counts as positive definite.
const pivotTolerance = 1e-12

// mat3 is a row-major 3×3 matrix.
type mat3 [9]float64

// invertSPD3 inverts a symmetric 3×3 block in closed form. It reports false when the block is
// not positive definite by Sylvester's criterion, with leading minors compared against the
// diagonal scale so that numerically singular blocks are rejected.
func invertSPD3(m *mat3) (mat3, bool) {
	a00, a01, a02 := m[0], m[1], m[2]
	a11, a12 := m[4], m[5]
	a22 := m[8]

	if !(a00 > 0) || !(a11 > 0) || !(a22 > 0) {
		return mat3{}, false
	}
	minor2 := a00*a11 - a01*a01
	if !(minor2 > pivotTolerance*a00*a11) {
		return mat3{}, false
	}

	c00 := a11*a22 - a12*a12
	c01 := a02*a12 - a01*a22
	c02 := a01*a12 - a02*a11
	det := a00*c00 + a01*c01 + a02*c02
	if !(det > pivotTolerance*a00*a11*a22) {
		return mat3{}, false
	}
	c11 := a00*a22 - a02*a02
	c12 := a01*a02 - a00*a12
	c22 := minor2

	inv := 1 / det
	return mat3{
		c00 * inv, c01 * inv, c02 * inv,
		c01 * inv, c11 * inv, c12 * inv,
		c02 * inv, c12 * inv, c22 * inv,
	}, true
}

// mulVec3 returns m v.
func mulVec3(m *mat3, v []float64) [3]float64 {
	return [3]float64{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}

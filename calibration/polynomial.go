package calibration

// Polynomial holds the (order+1)² coefficients of a bivariate polynomial p(s, t). The
// coefficient at index i*(order+1)+j multiplies s^i * t^j.
type Polynomial []float64

// Eval evaluates the polynomial at (outer, inner). Each block of order+1 coefficients is
// first reduced in the inner variable, then the resulting order+1 values are reduced in the
// outer variable. A negative order, or too few coefficients, evaluates to 0.
func (p Polynomial) Eval(order int, outer, inner float64) float64 {
	if order < 0 {
		return 0
	}
	n := order + 1
	if len(p) < n*n {
		return 0
	}
	var result float64
	for i := order; i >= 0; i-- {
		result = result*outer + horner(p[i*n:(i+1)*n], inner)
	}
	return result
}

// horner evaluates c[0] + c[1]*x + ... + c[n-1]*x^(n-1).
func horner(c []float64, x float64) float64 {
	var result float64
	for i := len(c) - 1; i >= 0; i-- {
		result = result*x + c[i]
	}
	return result
}

package element

import (
	"math"
)

// JacobiP evaluates the orthonormal Jacobi polynomial of type (alpha,beta)
// and order n at points x
func JacobiP(x []float64, alpha, beta float64, n int) []float64 {
	Np := len(x)
	P := make([]float64, Np)

	// Initial values P_0(x) and P_1(x)
	gamma0 := math.Pow(2, alpha+beta+1) / (alpha + beta + 1) *
		math.Gamma(alpha+1) * math.Gamma(beta+1) / math.Gamma(alpha+beta+1)

	for i := range P {
		P[i] = 1.0 / math.Sqrt(gamma0)
	}
	if n == 0 {
		return P
	}

	Pold := make([]float64, Np)
	copy(Pold, P)

	gamma1 := (alpha + 1) * (beta + 1) / (alpha + beta + 3) * gamma0
	for i := range P {
		P[i] = ((alpha+beta+2)*x[i]/2 + (alpha-beta)/2) / math.Sqrt(gamma1)
	}
	if n == 1 {
		return P
	}

	// Three term recurrence
	aold := 2.0 / (2.0 + alpha + beta) * math.Sqrt((alpha+1)*(beta+1)/(alpha+beta+3))

	for i := 1; i < n; i++ {
		h1 := 2*float64(i) + alpha + beta
		anew := 2.0 / (h1 + 2) * math.Sqrt((float64(i)+1)*(float64(i)+1+alpha+beta)*
			(float64(i)+1+alpha)*(float64(i)+1+beta)/(h1+1)/(h1+3))
		bnew := -(alpha*alpha - beta*beta) / h1 / (h1 + 2)

		for j := range P {
			next := 1 / anew * (-aold*Pold[j] + (x[j]-bnew)*P[j])
			Pold[j] = P[j]
			P[j] = next
		}
		aold = anew
	}

	return P
}

// JacobiPSingle evaluates the Jacobi polynomial at a single point
func JacobiPSingle(x, alpha, beta float64, n int) float64 {
	return JacobiP([]float64{x}, alpha, beta, n)[0]
}

// GradJacobiP evaluates the derivative of the orthonormal Jacobi polynomial
// of type (alpha,beta) and order n at points x
func GradJacobiP(x []float64, alpha, beta float64, n int) []float64 {
	dP := make([]float64, len(x))
	if n == 0 {
		return dP
	}

	// d/dx P_n^(a,b)(x) = sqrt(n(n+a+b+1)) * P_{n-1}^(a+1,b+1)(x)
	Ptemp := JacobiP(x, alpha+1, beta+1, n-1)
	for i := range dP {
		dP[i] = math.Sqrt(float64(n)*(float64(n)+alpha+beta+1)) * Ptemp[i]
	}
	return dP
}

// legendreTable fills p[k] and dp[k], k = 0..n, with the orthonormal
// Legendre polynomial of order k and its derivative at x
func legendreTable(x float64, n int, p, dp []float64) {
	xs := []float64{x}
	for k := 0; k <= n; k++ {
		p[k] = JacobiP(xs, 0, 0, k)[0]
		if dp != nil {
			dp[k] = GradJacobiP(xs, 0, 0, k)[0]
		}
	}
}

package linalg

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Per-cell dense block algebra shared by the projector and the operator
// hierarchy. All blocks are small (modes per cell and field).

// IdentityDense returns the n x n dense identity
func IdentityDense(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

// SymmetricPart returns (a + aᵀ)/2
func SymmetricPart(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

// InverseCholeskyFactor factors s = L Lᵀ and returns L⁻ᵀ and Lᵀ. The second
// result is false when s is not numerically positive definite.
func InverseCholeskyFactor(s mat.Symmetric) (linvT, lT *mat.Dense, ok bool) {
	var ch mat.Cholesky
	if !ch.Factorize(s) {
		return nil, nil, false
	}
	if c := ch.Cond(); math.IsInf(c, 0) || math.IsNaN(c) || c > 1e14 {
		return nil, nil, false
	}
	var L, Linv mat.TriDense
	ch.LTo(&L)
	if err := Linv.InverseTri(&L); err != nil {
		return nil, nil, false
	}
	return mat.DenseCopyOf(Linv.T()), mat.DenseCopyOf(L.T()), true
}

// EquilibrationTransform returns the change of basis that turns the
// symmetric block s into the identity. For positive definite s this is the
// inverse Cholesky factor. Otherwise the eigenpairs of s are used: modes with
// |λ| below dropTol·max|λ| are discarded (zero columns of right and zero
// rows of rightInv) and the rest are scaled by |λ|^{-1/2}. kept is the number
// of retained modes.
func EquilibrationTransform(s *mat.SymDense, dropTol float64) (right, rightInv *mat.Dense, kept int) {
	n := s.SymmetricDim()
	if right, rightInv, ok := InverseCholeskyFactor(s); ok {
		return right, rightInv, n
	}
	var es mat.EigenSym
	right = mat.NewDense(n, n, nil)
	rightInv = mat.NewDense(n, n, nil)
	if !es.Factorize(s, true) {
		return IdentityDense(n), IdentityDense(n), n
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	var lmax float64
	for _, l := range vals {
		lmax = math.Max(lmax, math.Abs(l))
	}
	if lmax == 0 {
		return right, rightInv, 0
	}
	for k, l := range vals {
		a := math.Abs(l)
		if a <= dropTol*lmax {
			continue
		}
		kept++
		sc := 1 / math.Sqrt(a)
		for i := 0; i < n; i++ {
			v := vecs.At(i, k)
			right.Set(i, k, v*sc)
			rightInv.Set(k, i, v/sc)
		}
	}
	return right, rightInv, kept
}

// OrthonormalityDefect returns ‖CᵀC − I‖_F
func OrthonormalityDefect(c mat.Matrix) float64 {
	_, n := c.Dims()
	var g mat.Dense
	g.Mul(c.T(), c)
	for i := 0; i < n; i++ {
		g.Set(i, i, g.At(i, i)-1)
	}
	return mat.Norm(&g, 2)
}

// Orthonormalize returns the thin Q factor of c with the sign convention
// that the diagonal of R is positive
func Orthonormalize(c mat.Matrix) *mat.Dense {
	m, n := c.Dims()
	var qr mat.QR
	qr.Factorize(c)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)
	thin := mat.DenseCopyOf(q.Slice(0, m, 0, n))
	for k := 0; k < n; k++ {
		if r.At(k, k) < 0 {
			for i := 0; i < m; i++ {
				thin.Set(i, k, -thin.At(i, k))
			}
		}
	}
	return thin
}

// BlockSolver solves with one dense diagonal block. Singular blocks act as
// the identity.
type BlockSolver struct {
	lu       mat.LU
	singular bool
	n        int
}

// NewBlockSolver factors a
func NewBlockSolver(a mat.Matrix) *BlockSolver {
	n, _ := a.Dims()
	bs := &BlockSolver{n: n}
	if n == 0 {
		return bs
	}
	bs.lu.Factorize(a)
	if c := bs.lu.Cond(); math.IsInf(c, 0) || math.IsNaN(c) || c > 1e14 {
		bs.singular = true
	}
	return bs
}

// Singular reports whether the block could not be factored
func (bs *BlockSolver) Singular() bool { return bs.singular }

// Solve overwrites x with a⁻¹ b. An ill-conditioned block still yields
// its LU solution; any other failure is returned.
func (bs *BlockSolver) Solve(x, b []float64) error {
	if bs.n == 0 {
		return nil
	}
	if bs.singular {
		copy(x, b)
		return nil
	}
	dst := mat.NewVecDense(bs.n, x)
	err := bs.lu.SolveVecTo(dst, false, mat.NewVecDense(bs.n, append([]float64(nil), b...)))
	if _, ok := err.(mat.Condition); ok {
		return nil
	}
	return err
}

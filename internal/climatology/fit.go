package climatology

import (
	"math"

	"gonum.org/v1/gonum/mathext"
)

// gammaFit holds maximum-likelihood gamma parameters.
type gammaFit struct {
	shape float64
	scale float64
}

// fitGamma estimates gamma shape and scale for strictly positive samples by
// maximum likelihood. The shape solves ln k − ψ(k) = A with
// A = ln(mean) − mean(ln x); Thom's approximation seeds a Newton–Raphson
// iteration. Returns a non-empty reason when the fit cannot be trusted.
func fitGamma(positives []float64, maxIter int, tol float64) (gammaFit, string) {
	n := float64(len(positives))
	var sum, sumLog float64
	for _, x := range positives {
		sum += x
		sumLog += math.Log(x)
	}
	mean := sum / n
	a := math.Log(mean) - sumLog/n
	if !(a > 1e-12) || math.IsInf(a, 0) {
		return gammaFit{}, "degenerate sample"
	}

	k := (1 + math.Sqrt(1+4*a/3)) / (4 * a)
	for i := 0; i < maxIter; i++ {
		f := math.Log(k) - mathext.Digamma(k) - a
		df := 1/k - trigamma(k)
		if df == 0 || math.IsNaN(df) {
			return gammaFit{}, "zero derivative"
		}
		next := k - f/df
		if next <= 0 {
			next = k / 2
		}
		if math.IsNaN(next) || math.IsInf(next, 0) {
			return gammaFit{}, "shape diverged"
		}
		if math.Abs(next-k) <= tol*k {
			return gammaFit{shape: next, scale: mean / next}, ""
		}
		k = next
	}
	return gammaFit{}, "shape did not converge"
}

// trigamma evaluates ψ′(x) for x > 0 using the recurrence ψ′(x) = ψ′(x+1) + 1/x²
// to reach x ≥ 6 and then the asymptotic expansion.
func trigamma(x float64) float64 {
	var acc float64
	for x < 6 {
		acc += 1 / (x * x)
		x++
	}
	x2 := 1 / (x * x)
	series := 1/x + x2/2 + (1/x)*x2*(1.0/6-x2*(1.0/30-x2*(1.0/42-x2/30)))
	return acc + series
}

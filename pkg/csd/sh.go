package csd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// shOrder returns the even order L whose symmetric basis has n coefficients,
// (L+1)(L+2)/2 of them.
func shOrder(n int) (int, error) {
	for l := 0; (l+1)*(l+2)/2 <= n; l += 2 {
		if (l+1)*(l+2)/2 == n {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%d coefficients do not form an even order SH series", n)
}

// shBasis evaluates the real symmetric SH basis used by dipy's CSD model
// (descoteaux07, legacy convention) at every vertex. Rows are vertices;
// columns run over n = 0, 2, ..., order and m = -n..n.
func shBasis(order int, vertices []r3.Vec) *mat.Dense {
	ncoef := (order + 1) * (order + 2) / 2
	b := mat.NewDense(len(vertices), ncoef, nil)
	for i, v := range vertices {
		phi := math.Atan2(v.Y, v.X)
		col := 0
		for n := 0; n <= order; n += 2 {
			for m := -n; m <= n; m++ {
				am := m
				if am < 0 {
					am = -am
				}
				y := shNorm(n, am) * legendre(n, am, v.Z)
				switch {
				case m > 0:
					y *= math.Sqrt2 * math.Sin(float64(am)*phi)
				case m < 0:
					y *= math.Sqrt2 * math.Cos(float64(am)*phi)
				}
				b.Set(i, col, y)
				col++
			}
		}
	}
	return b
}

// shNorm is sqrt((2n+1)/(4pi) * (n-m)!/(n+m)!).
func shNorm(n, m int) float64 {
	r := 1.0
	for k := n - m + 1; k <= n+m; k++ {
		r /= float64(k)
	}
	return math.Sqrt(float64(2*n+1) / (4 * math.Pi) * r)
}

// legendre evaluates the associated Legendre function P_l^m(x), including
// the Condon-Shortley phase, for 0 <= m <= l.
func legendre(l, m int, x float64) float64 {
	pmm := 1.0
	if m > 0 {
		s := math.Sqrt((1 - x) * (1 + x))
		f := 1.0
		for i := 1; i <= m; i++ {
			pmm *= -f * s
			f += 2
		}
	}
	if l == m {
		return pmm
	}
	pmm1 := x * float64(2*m+1) * pmm
	if l == m+1 {
		return pmm1
	}
	var pll float64
	for ll := m + 2; ll <= l; ll++ {
		pll = (x*float64(2*ll-1)*pmm1 - float64(ll+m-1)*pmm) / float64(ll-m)
		pmm, pmm1 = pmm1, pll
	}
	return pll
}

package correlate

import "math"

// welford accumulates running mean and variance (Welford's online
// algorithm) and supports removal so windows can evict without a rescan.
type welford struct {
	n    int
	mean float64
	m2   float64
}

func (w *welford) add(x float64) {
	w.n++
	d := x - w.mean
	w.mean += d / float64(w.n)
	w.m2 += d * (x - w.mean)
}

func (w *welford) remove(x float64) {
	switch {
	case w.n == 0:
		return
	case w.n == 1:
		*w = welford{}
		return
	}
	nf := float64(w.n)
	newMean := (nf*w.mean - x) / (nf - 1)
	w.m2 -= (x - newMean) * (x - w.mean)
	if w.m2 < 0 {
		// Floating-point drift; variance cannot be negative.
		w.m2 = 0
	}
	w.mean = newMean
	w.n--
}

func (w *welford) variance() float64 {
	if w.n < 2 {
		return 0
	}
	return w.m2 / float64(w.n-1)
}

func (w *welford) std() float64 { return math.Sqrt(w.variance()) }

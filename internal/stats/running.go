// Package stats maintains the per-day population statistic.
//
// Running keeps the raw sums (count, sum, sum of squares) for reporting and a
// Welford mean/M2 pair from which the spread is derived, so that the standard
// error stays accurate for large step counts and many contributors.
package stats

import "math"

// Running is the sufficient statistic for one day. The zero value is an empty day.
type Running struct {
	Count      int64
	Sum        float64
	SumSquares float64
	Mean       float64
	M2         float64
}

// Add folds x into the statistic.
func (r *Running) Add(x float64) {
	r.Count++
	r.Sum += x
	r.SumSquares += x * x
	delta := x - r.Mean
	r.Mean += delta / float64(r.Count)
	r.M2 += delta * (x - r.Mean)
}

// Variance returns the sample variance. Fewer than two values yield 0.
func (r Running) Variance() float64 {
	if r.Count < 2 {
		return 0
	}
	v := r.M2 / float64(r.Count-1)
	if v < 0 {
		// rounding on identical values
		return 0
	}
	return v
}

// StdDev returns the sample standard deviation.
func (r Running) StdDev() float64 {
	return math.Sqrt(r.Variance())
}

// SEM returns the standard error of the mean, stdDev/sqrt(n). An empty day yields 0.
func (r Running) SEM() float64 {
	if r.Count == 0 {
		return 0
	}
	return r.StdDev() / math.Sqrt(float64(r.Count))
}

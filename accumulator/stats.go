// Package accumulator converts raw per-sample sensor readings into
// statistically summarized telemetry over fixed time windows. Three
// window kinds exist: linear (mean and sample standard deviation),
// quartile-robust (median and interquartile-range standard deviation
// estimate) and circular (directional statistics for angular data that
// wrap at the 0/360 degree boundary).
//
// Windows are confined to their owning read loop and need no locking.
package accumulator

import (
	"math"
	"sort"
)

// iqrNormalFactor is the interquartile range of a standard normal
// distribution in units of sigma. Dividing the observed IQR by it yields
// a standard-deviation estimate that is robust to outliers.
const iqrNormalFactor = 1.349

// MeanAndStdDev computes the arithmetic mean and sample standard
// deviation from running sums. With fewer than two samples the standard
// deviation is 0.
func MeanAndStdDev(sum, sumSq float64, n int) (mean, stdDev float64) {
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, 0
	}
	variance := (sumSq - float64(n)*mean*mean) / float64(n-1)
	if variance < 0 {
		// Floating point cancellation can push a tiny variance negative.
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// MedianAndStdDev computes the median and a quartile-based standard
// deviation estimate, (Q3 - Q1) / 1.349. The estimate assumes
// approximate normality of the bulk of the data and resists outliers
// that would inflate the raw sample standard deviation.
func MedianAndStdDev(data []float64) (median, stdDev float64) {
	if len(data) == 0 {
		return math.NaN(), math.NaN()
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	q1 := Quantile(sorted, 0.25)
	median = Quantile(sorted, 0.5)
	q3 := Quantile(sorted, 0.75)
	return median, (q3 - q1) / iqrNormalFactor
}

// Quantile returns the q-th quantile of sorted data using linear
// interpolation between closest ranks. sorted must be in ascending order
// and non-empty; q must be in [0, 1].
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// CircularMeanStdDev computes the circular mean and circular standard
// deviation, in degrees, from accumulated sine and cosine sums over n
// angular samples. See https://en.wikipedia.org/wiki/Directional_statistics.
//
// The mean is normalized into [0, 360). The standard deviation is
// deg(sqrt(-2 ln R)) where R is the mean resultant length; it is 0 when
// all samples agree and grows without bound as the samples spread
// uniformly around the circle (R approaches 0 yields +Inf).
// resultantEpsilon is the mean resultant length below which the spread
// is treated as uniform. sin/cos sums accumulate residue around 1e-16
// per sample, well under this bound for any realistic window.
const resultantEpsilon = 1e-9

func CircularMeanStdDev(sinSum, cosSum float64, n int) (mean, stdDev float64) {
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	r := math.Hypot(sinSum, cosSum) / float64(n)
	if r > 1 {
		// Rounding can nudge R past 1 when all angles coincide.
		r = 1
	}
	if r < resultantEpsilon {
		// Summing sines and cosines of uniformly spread angles leaves a
		// tiny nonzero residue instead of an exact zero.
		r = 0
	}

	mean = radToDeg(math.Atan2(sinSum, cosSum))
	if mean < 0 {
		mean += 360
	}
	if mean >= 360 {
		mean -= 360
	}

	if r == 0 {
		return mean, math.Inf(1)
	}
	return mean, radToDeg(math.Sqrt(-2 * math.Log(r)))
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180 }

func radToDeg(rad float64) float64 { return rad * 180 / math.Pi }

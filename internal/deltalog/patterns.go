package deltalog

import "math"

// TrendDirection classifies the sign of a fitted slope.
type TrendDirection int

const (
	TrendFlat TrendDirection = iota
	TrendUp
	TrendDown
)

// Trend is the result of a least-squares fit over a series.
type Trend struct {
	Direction  TrendDirection
	Slope      float64
	Confidence float64 // R^2
}

const (
	trendMinR2          = 0.3
	trendMinSlopeMag    = 1e-4
	periodicMinLagDays  = 1
	periodicMaxLagDays  = 30
	periodicPeakThresh  = 0.5
	anomalyZThreshold   = 3.0
	seasonalMinDaysSpan = 30
)

// DetectTrend fits a line to points ordered by time (x = index) and
// classifies it Up/Down/Flat using an R^2 floor and a slope-magnitude floor;
// a fit that clears the R^2 floor but has negligible slope is Flat.
func DetectTrend(points []Point) Trend {
	n := len(points)
	if n < 2 {
		return Trend{Direction: TrendFlat}
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range points {
		xs[i] = float64(i)
		ys[i] = float64(p.Value)
	}

	slope, intercept := leastSquares(xs, ys)
	r2 := rSquared(xs, ys, slope, intercept)

	if r2 < trendMinR2 || math.Abs(slope) < trendMinSlopeMag {
		return Trend{Direction: TrendFlat, Slope: slope, Confidence: r2}
	}
	dir := TrendUp
	if slope < 0 {
		dir = TrendDown
	}
	return Trend{Direction: dir, Slope: slope, Confidence: r2}
}

func leastSquares(xs, ys []float64) (slope, intercept float64) {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func rSquared(xs, ys []float64, slope, intercept float64) float64 {
	var meanY float64
	for _, y := range ys {
		meanY += y
	}
	meanY /= float64(len(ys))

	var ssRes, ssTot float64
	for i := range xs {
		pred := slope*xs[i] + intercept
		ssRes += (ys[i] - pred) * (ys[i] - pred)
		ssTot += (ys[i] - meanY) * (ys[i] - meanY)
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

// Periodicity is the dominant integer-day lag found by autocorrelation.
type Periodicity struct {
	Found   bool
	LagDays int
	Peak    float64
	Phase   float64 // fraction of the period, argmax position
}

// DetectPeriodic scans autocorrelation at integer lags 1..30 (in units of
// the series' own sample spacing, treated as days) and reports the lag with
// the highest peak exceeding periodicPeakThresh.
func DetectPeriodic(points []Point) Periodicity {
	n := len(points)
	if n < periodicMinLagDays+2 {
		return Periodicity{}
	}
	values := make([]float64, n)
	var mean float64
	for i, p := range points {
		values[i] = float64(p.Value)
		mean += values[i]
	}
	mean /= float64(n)

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	if variance == 0 {
		return Periodicity{}
	}

	bestLag := 0
	bestPeak := 0.0
	maxLag := periodicMaxLagDays
	if maxLag > n-1 {
		maxLag = n - 1
	}
	for lag := periodicMinLagDays; lag <= maxLag; lag++ {
		var cov float64
		for i := 0; i+lag < n; i++ {
			cov += (values[i] - mean) * (values[i+lag] - mean)
		}
		corr := cov / variance
		if corr > bestPeak {
			bestPeak = corr
			bestLag = lag
		}
	}

	if bestPeak < periodicPeakThresh {
		return Periodicity{}
	}
	phase := 0.0
	if bestLag > 0 {
		argmax := 0
		for i, v := range values {
			if v > values[argmax] {
				argmax = i
			}
		}
		phase = float64(argmax%bestLag) / float64(bestLag)
	}
	return Periodicity{Found: true, LagDays: bestLag, Peak: bestPeak, Phase: phase}
}

// Anomaly flags a single point whose z-score against the trailing window
// exceeds the threshold.
type Anomaly struct {
	Index   int
	ZScore  float64
	IsOutlier bool
}

// DetectAnomalies reports a z-score for every point (computed against all
// prior points) and flags those exceeding anomalyZThreshold in magnitude.
// The newest point is always evaluated against the full trailing window. A
// point that differs from a constant (zero-variance) window scores ±Inf.
func DetectAnomalies(points []Point) []Anomaly {
	var out []Anomaly
	for i := 1; i < len(points); i++ {
		window := points[:i]
		var mean float64
		for _, p := range window {
			mean += float64(p.Value)
		}
		mean /= float64(len(window))

		var variance float64
		for _, p := range window {
			d := float64(p.Value) - mean
			variance += d * d
		}
		variance /= float64(len(window))
		stddev := math.Sqrt(variance)

		z := 0.0
		dev := float64(points[i].Value) - mean
		if stddev > 0 {
			z = dev / stddev
		} else if dev != 0 {
			z = math.Copysign(math.Inf(1), dev)
		}
		out = append(out, Anomaly{Index: i, ZScore: z, IsOutlier: math.Abs(z) > anomalyZThreshold})
	}
	return out
}

// SeasonalBucket is one calendar month's aggregate discount magnitude.
type SeasonalBucket struct {
	Month          int // 1-12
	AvgMagnitude   float64
	SampleCount    int
}

// DetectSeasonal buckets points by calendar month and reports average
// magnitude per month. Requires at least seasonalMinDaysSpan days between
// the first and last point; otherwise returns nil (insufficient history).
func DetectSeasonal(points []Point) []SeasonalBucket {
	if len(points) < 2 {
		return nil
	}
	span := points[len(points)-1].Timestamp.Sub(points[0].Timestamp).Hours() / 24
	if span < seasonalMinDaysSpan {
		return nil
	}

	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, p := range points {
		m := int(p.Timestamp.Month())
		sums[m] += math.Abs(float64(p.Value))
		counts[m]++
	}

	out := make([]SeasonalBucket, 0, len(sums))
	for m := 1; m <= 12; m++ {
		if counts[m] == 0 {
			continue
		}
		out = append(out, SeasonalBucket{
			Month:        m,
			AvgMagnitude: sums[m] / float64(counts[m]),
			SampleCount:  counts[m],
		})
	}
	return out
}

package supply

import (
	"math"
	"sort"
	"time"

	"github.com/sawpanic/eligibility/internal/domain"
)

// CorrelateSeries aligns two price series on the hour, converts them to simple returns
// and returns the Pearson coefficient with the number of returns used.
func CorrelateSeries(a, b []domain.PricePoint) (float64, int, error) {
	ra, rb := alignedReturns(a, b)
	if len(ra) < 3 {
		return 0, len(ra), ErrInsufficientSamples
	}
	return Pearson(ra, rb), len(ra), nil
}

// Pearson computes the correlation coefficient of two equal-length samples.
// Constant inputs have no defined correlation and yield 0.
func Pearson(x, y []float64) float64 {
	n := len(x)
	if n == 0 || n != len(y) {
		return 0
	}

	var meanX, meanY float64
	for i := 0; i < n; i++ {
		meanX += x[i]
		meanY += y[i]
	}
	meanX /= float64(n)
	meanY /= float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-meanX, y[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}

	r := cov / math.Sqrt(varX*varY)
	return math.Max(-1, math.Min(1, r))
}

// hourly buckets a series by hour, keeping the latest sample of each hour
func hourly(series []domain.PricePoint) map[int64]domain.PricePoint {
	out := make(map[int64]domain.PricePoint, len(series))
	for _, p := range series {
		ts := p.Timestamp.Truncate(time.Hour).Unix()
		if cur, ok := out[ts]; !ok || !p.Timestamp.Before(cur.Timestamp) {
			out[ts] = p
		}
	}
	return out
}

// alignedReturns applies the same bucketing to both series, so swapping a and b
// swaps the outputs and nothing else
func alignedReturns(a, b []domain.PricePoint) ([]float64, []float64) {
	ha, hb := hourly(a), hourly(b)

	type pair struct {
		ts     int64
		pa, pb float64
	}
	pairs := make([]pair, 0, len(ha))
	for ts, pa := range ha {
		if pb, ok := hb[ts]; ok {
			pairs = append(pairs, pair{ts: ts, pa: pa.PriceUSD, pb: pb.PriceUSD})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ts < pairs[j].ts })

	var ra, rb []float64
	for i := 1; i < len(pairs); i++ {
		prev, cur := pairs[i-1], pairs[i]
		if prev.pa <= 0 || prev.pb <= 0 {
			continue
		}
		ra = append(ra, cur.pa/prev.pa-1)
		rb = append(rb, cur.pb/prev.pb-1)
	}
	return ra, rb
}

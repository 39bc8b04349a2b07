package processor

import (
	"math"
	"sort"
)

// Summary is the shared statistical description every processor computes
// over its primary value series.
type Summary struct {
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	Std      float64 `json:"std"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	P25      float64 `json:"p25"`
	P75      float64 `json:"p75"`
	P95      float64 `json:"p95"`
	CV       float64 `json:"cv"`
	IQR      float64 `json:"iqr"`
	Outliers int     `json:"outliers"`
}

// Describe computes the shared summary statistics for a value series.
// CV is SD/mean*100; outliers are counted with the 1.5*IQR fence.
func Describe(values []float64) Summary {
	s := Summary{Count: len(values)}
	if len(values) == 0 {
		return s
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	s.Mean = sum / float64(len(sorted))
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.Median = Percentile(sorted, 50)
	s.P25 = Percentile(sorted, 25)
	s.P75 = Percentile(sorted, 75)
	s.P95 = Percentile(sorted, 95)
	s.IQR = s.P75 - s.P25

	variance := 0.0
	for _, v := range sorted {
		d := v - s.Mean
		variance += d * d
	}
	variance /= float64(len(sorted))
	s.Std = math.Sqrt(variance)

	if s.Mean != 0 {
		s.CV = s.Std / s.Mean * 100
	}

	lowFence := s.P25 - 1.5*s.IQR
	highFence := s.P75 + 1.5*s.IQR
	for _, v := range sorted {
		if v < lowFence || v > highFence {
			s.Outliers++
		}
	}
	return s
}

// Percentile interpolates linearly over a sorted series.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// AsMap flattens the summary for insight metadata.
func (s Summary) AsMap() map[string]interface{} {
	return map[string]interface{}{
		"count":    s.Count,
		"mean":     round1(s.Mean),
		"median":   round1(s.Median),
		"std":      round1(s.Std),
		"min":      s.Min,
		"max":      s.Max,
		"p25":      round1(s.P25),
		"p75":      round1(s.P75),
		"p95":      round1(s.P95),
		"cv":       round1(s.CV),
		"iqr":      round1(s.IQR),
		"outliers": s.Outliers,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Package stats computes descriptive statistics over a merged result set.
package stats

import (
	"math"
	"sort"

	"github.com/evidlab/study-aggregation-service/internal/domain"
)

// Summarize computes descriptive statistics over the result set. It is
// pure and deterministic. Distributions with no underlying data are nil
// rather than zero-valued, so a missing summary is distinguishable from
// a summary of zeros.
func Summarize(rs *domain.SearchResultSet) *domain.StatisticsReport {
	report := &domain.StatisticsReport{
		StudyCounts: make(map[string]int),
	}
	if rs == nil || rs.Size() == 0 {
		return report
	}
	report.TotalPapers = rs.Size()

	var samples, years []int
	poolTotal, poolCount := 0, 0

	for _, paper := range rs.Papers {
		report.StudyCounts[paper.StudyType.ReportingLabel()]++
		if paper.SampleSize != nil {
			samples = append(samples, *paper.SampleSize)
		}
		if paper.Year != 0 {
			years = append(years, paper.Year)
		}
		if poolable(paper.StudyType) && paper.SampleSize != nil {
			poolTotal += *paper.SampleSize
			poolCount++
		}
	}

	report.SampleSizes = summarizeSamples(samples)
	report.Years = summarizeYears(years)
	report.PoolableCount = poolCount
	if poolCount > 0 {
		estimate := float64(poolTotal) / float64(poolCount)
		report.PooledEstimate = &estimate
	}
	return report
}

// poolable reports whether a design contributes to the pooled estimate.
// The estimate is an unweighted mean over comparative designs, not a
// random-effects pool.
func poolable(t domain.StudyType) bool {
	switch t {
	case domain.StudyTypeRCT, domain.StudyTypeCohort, domain.StudyTypeCaseControl:
		return true
	}
	return false
}

func summarizeSamples(samples []int) *domain.SampleSizeSummary {
	if len(samples) == 0 {
		return nil
	}
	sort.Ints(samples)

	total := 0
	for _, n := range samples {
		total += n
	}
	mean := float64(total) / float64(len(samples))

	variance := 0.0
	for _, n := range samples {
		d := float64(n) - mean
		variance += d * d
	}
	variance /= float64(len(samples))

	return &domain.SampleSizeSummary{
		Count:  len(samples),
		Total:  total,
		Mean:   mean,
		Median: medianInts(samples),
		StdDev: math.Sqrt(variance),
		Min:    samples[0],
		Max:    samples[len(samples)-1],
	}
}

func summarizeYears(years []int) *domain.YearDistribution {
	if len(years) == 0 {
		return nil
	}
	sort.Ints(years)

	byYear := make(map[int]int, len(years))
	for _, y := range years {
		byYear[y]++
	}

	return &domain.YearDistribution{
		MinYear:    years[0],
		MaxYear:    years[len(years)-1],
		MedianYear: medianInts(years),
		ByYear:     byYear,
	}
}

// medianInts returns the median of a sorted slice, averaging the middle
// pair for even lengths.
func medianInts(sorted []int) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

package domain

import (
	"cmp"
	"slices"
)

// TopTagLimit is how many tags Stats reports.
const TopTagLimit = 10

// Stats summarizes one owner's active experiments. Every figure is zero when
// there are no records.
type Stats struct {
	TotalExperiments int64      `json:"totalExperiments"`
	AvgAccuracy      float64    `json:"avgAccuracy"`
	AvgLoss          float64    `json:"avgLoss"`
	MaxAccuracy      float64    `json:"maxAccuracy"`
	MinLoss          float64    `json:"minLoss"`
	TopTags          []TagCount `json:"topTags"`
}

// TagCount is how many experiments carry a tag.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}

// ComputeStats aggregates records in memory. Callers pass only the records that
// should be counted.
func ComputeStats(records []*Experiment) Stats {
	s := Stats{TopTags: []TagCount{}}
	if len(records) == 0 {
		return s
	}

	var sumAcc, sumLoss float64
	counts := make(map[string]int64)
	for i, e := range records {
		sumAcc += e.Accuracy
		sumLoss += e.Loss
		if i == 0 || e.Accuracy > s.MaxAccuracy {
			s.MaxAccuracy = e.Accuracy
		}
		if i == 0 || e.Loss < s.MinLoss {
			s.MinLoss = e.Loss
		}
		for _, t := range e.Tags {
			counts[t]++
		}
	}

	n := float64(len(records))
	s.TotalExperiments = int64(len(records))
	s.AvgAccuracy = sumAcc / n
	s.AvgLoss = sumLoss / n

	for tag, c := range counts {
		s.TopTags = append(s.TopTags, TagCount{Tag: tag, Count: c})
	}
	SortTagCounts(s.TopTags)
	if len(s.TopTags) > TopTagLimit {
		s.TopTags = s.TopTags[:TopTagLimit]
	}
	return s
}

// SortTagCounts orders by count descending, then tag ascending.
func SortTagCounts(tags []TagCount) {
	slices.SortFunc(tags, func(a, b TagCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Tag, b.Tag)
	})
}

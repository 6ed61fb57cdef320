package ranking

import "clipsync/storage"

// Bounds of the source performance multiplier.
const (
	MinPerformance = 0.5
	MaxPerformance = 2.0
)

// Performance returns the multiplier for a source: its recent average
// destination views against the average over all sources, clamped to
// [MinPerformance, MaxPerformance]. It is 1 until the source has minSamples.
func Performance(source *storage.SourceStats, all []*storage.SourceStats, minSamples int) float64 {
	if source == nil || source.Samples <= 0 || source.Samples < minSamples {
		return 1
	}

	var sum float64
	var n int
	for _, st := range all {
		if st == nil || st.Samples <= 0 {
			continue
		}
		sum += st.RecentAvgViews
		n++
	}
	if n == 0 || sum <= 0 {
		return 1
	}
	global := sum / float64(n)
	return clamp(source.RecentAvgViews/global, MinPerformance, MaxPerformance)
}

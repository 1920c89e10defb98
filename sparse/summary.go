package sparse

import (
	"github.com/montanaflynn/stats"
	"github.com/samber/lo"
)

// Summary holds counts and track statistics of a reconstruction.
type Summary struct {
	Cameras           int
	Points            int
	Observations      int
	MeanTrackLength   float64
	MedianTrackLength float64
	MaxTrackLength    int
}

// Summarize computes a Summary of rec. Track statistics are zero when rec has
// no points.
func Summarize(rec *Reconstruction) Summary {
	s := Summary{Cameras: len(rec.Cameras), Points: len(rec.Points)}
	if len(rec.Points) == 0 {
		return s
	}
	lengths := make(stats.Float64Data, len(rec.Points))
	for i := range rec.Points {
		n := len(rec.Points[i].Observations)
		lengths[i] = float64(n)
		s.Observations += n
		s.MaxTrackLength = max(s.MaxTrackLength, n)
	}
	// Errors only occur for empty input, excluded above.
	s.MeanTrackLength, _ = lengths.Mean()
	s.MedianTrackLength, _ = lengths.Median()
	return s
}

// ObservationsByCamera returns the number of observations made by each
// camera that observes at least one point.
func ObservationsByCamera(rec *Reconstruction) map[int]int {
	obs := lo.FlatMap(rec.Points, func(pt Point, _ int) []Observation {
		return pt.Observations
	})
	return lo.CountValuesBy(obs, func(o Observation) int {
		return o.CameraIndex
	})
}

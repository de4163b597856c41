package domain

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Summary describes the reflectivity distribution of one committed volume.
type Summary struct {
	Cells   int     `json:"cells"`
	Missing int     `json:"missing"`
	Max     float64 `json:"max_dbz"`
	P50     float64 `json:"p50_dbz"`
	P90     float64 `json:"p90_dbz"`
	P99     float64 `json:"p99_dbz"`
}

// Summarize computes cell counts and approximate quantiles (1% relative
// accuracy) over the non-missing cells of a volume. A fully masked volume
// reports zero quantiles.
func Summarize(volume []float32) (Summary, error) {
	s := Summary{Cells: len(volume)}
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return s, err
	}
	observed := 0
	for _, v := range volume {
		if math.IsNaN(float64(v)) {
			s.Missing++
			continue
		}
		if err := sketch.Add(float64(v)); err != nil {
			return s, err
		}
		if observed == 0 || float64(v) > s.Max {
			s.Max = float64(v)
		}
		observed++
	}
	if observed == 0 {
		return s, nil
	}
	if s.P50, err = sketch.GetValueAtQuantile(0.50); err != nil {
		return s, err
	}
	if s.P90, err = sketch.GetValueAtQuantile(0.90); err != nil {
		return s, err
	}
	if s.P99, err = sketch.GetValueAtQuantile(0.99); err != nil {
		return s, err
	}
	return s, nil
}

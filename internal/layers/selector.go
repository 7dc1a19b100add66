package layers

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/ironsheep/layersmith/internal/imaging"
)

const (
	// AutoCount asks for automatic cluster-count selection.
	AutoCount = 0

	// MinCount and MaxCount bound both manual counts and automatic results.
	MinCount = 1
	MaxCount = 10

	// DefaultSearchMin and DefaultSearchMax bound the automatic search.
	DefaultSearchMin = 2
	DefaultSearchMax = 15

	ratioEpsilon = 1e-10
)

// ErrInvalidClusterCount is returned for manual counts outside [1,10].
var ErrInvalidClusterCount = errors.New("invalid cluster count")

// ValidateCount accepts AutoCount or a manual count in [MinCount, MaxCount].
func ValidateCount(n int) error {
	if n == AutoCount || (n >= MinCount && n <= MaxCount) {
		return nil
	}
	return fmt.Errorf("%w: %d (want 0 for automatic or %d-%d)", ErrInvalidClusterCount, n, MinCount, MaxCount)
}

// ResolveCount returns count itself when it is a manual value, or runs the
// automatic selection over [DefaultSearchMin, DefaultSearchMax] when it is AutoCount.
func (d *Decomposer) ResolveCount(ctx context.Context, s *imaging.PixelSample, count int) (int, error) {
	if err := ValidateCount(count); err != nil {
		return 0, err
	}
	if count != AutoCount {
		return count, nil
	}
	return d.SelectCount(ctx, s, DefaultSearchMin, DefaultSearchMax)
}

// SelectCount picks a cluster count with the elbow heuristic described in the
// package documentation.
//
// kMax is capped at DefaultSearchMax and at the pixel count. When fewer than three
// candidates remain no ratio can be formed and kMin is returned. The result is
// always clamped to [2, MaxCount].
func (d *Decomposer) SelectCount(ctx context.Context, s *imaging.PixelSample, kMin, kMax int) (int, error) {
	if s == nil || s.Len() == 0 {
		return 0, fmt.Errorf("%w: empty sample", ErrClusteringFailed)
	}
	kMin = max(kMin, MinCount)
	kMax = min(kMax, DefaultSearchMax, s.Len())
	if kMax-kMin < 2 {
		return clampAuto(kMin), nil
	}

	points, weights := subsample(s, d.cfg.ExploreSample)

	inertia := make([]float64, 0, kMax-kMin+1)
	for k := kMin; k <= kMax; k++ {
		fit, err := fitKMeans(ctx, points, weights, fitConfig{
			k:       k,
			nInit:   d.cfg.ExploreInit,
			maxIter: d.cfg.ExploreIter,
			tol:     d.cfg.Tolerance,
			seed:    d.cfg.Seed,
		})
		if errors.Is(err, ErrClusteringFailed) {
			// Subsample smaller than k: stop the search here.
			break
		}
		if err != nil {
			return 0, err
		}
		inertia = append(inertia, inertiaOf(s.Colors, s.Weights, fit.centers))
	}
	if len(inertia) < 3 {
		return clampAuto(kMin), nil
	}

	k := elbow(inertia) + kMin + 1
	d.logger.Sugar().Debugw("cluster count selected",
		"k", clampAuto(k), "raw", k, "candidates", len(inertia))
	return clampAuto(k), nil
}

// elbow returns argmin over |Δ[i+1] / Δ[i]| of the inertia curve.
func elbow(inertia []float64) int {
	deltas := floats.SubTo(make([]float64, len(inertia)-1), inertia[1:], inertia[:len(inertia)-1])
	ratios := make([]float64, len(deltas)-1)
	for i := range ratios {
		den := deltas[i]
		if den > -ratioEpsilon && den < ratioEpsilon {
			den = ratioEpsilon
		}
		r := deltas[i+1] / den
		if r < 0 {
			r = -r
		}
		ratios[i] = r
	}
	return floats.MinIdx(ratios)
}

func clampAuto(k int) int {
	return min(max(k, DefaultSearchMin), MaxCount)
}

// subsample returns at most limit distinct colours, taken at a fixed stride so
// the result is deterministic, together with their pixel weights.
func subsample(s *imaging.PixelSample, limit int) ([]imaging.Lab, []float64) {
	n := s.Distinct()
	if limit <= 0 || n <= limit {
		return s.Colors, s.Weights
	}
	step := float64(n) / float64(limit)
	points := make([]imaging.Lab, 0, limit)
	weights := make([]float64, 0, limit)
	for i := 0; i < limit; i++ {
		j := int(float64(i) * step)
		points = append(points, s.Colors[j])
		weights = append(weights, s.Weights[j])
	}
	return points, weights
}

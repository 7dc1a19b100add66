package layers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/layersmith/internal/imaging"
)

// ErrClusteringFailed is returned when k-means cannot be fitted, e.g. when the
// input has fewer pixels than requested clusters.
var ErrClusteringFailed = errors.New("clustering failed")

// fitConfig controls one k-means fit.
type fitConfig struct {
	k       int
	nInit   int
	maxIter int
	tol     float64
	seed    uint64
}

// fitResult is the best run of a fit.
type fitResult struct {
	centers []imaging.Lab
	labels  []int // one per point
	inertia float64
	iters   int
}

// fitKMeans runs weighted k-means++ / Lloyd over points.
//
// weights[i] is the number of pixels sharing points[i]. The tolerance is relative
// to the mean per-axis variance of the data, so it is independent of the colour
// space scaling.
func fitKMeans(ctx context.Context, points []imaging.Lab, weights []float64, cfg fitConfig) (*fitResult, error) {
	if cfg.k < 1 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrClusteringFailed, cfg.k)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no pixels", ErrClusteringFailed)
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	if total < float64(cfg.k) {
		return nil, fmt.Errorf("%w: %d pixels for %d clusters", ErrClusteringFailed, int(total), cfg.k)
	}
	nInit := max(cfg.nInit, 1)
	tol := cfg.tol * meanVariance(points, weights)

	runs := make([]*fitResult, nInit)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < nInit; i++ {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(cfg.seed, uint64(i)))
			res, err := lloyd(gctx, points, weights, cfg.k, cfg.maxIter, tol, rng)
			if err != nil {
				return err
			}
			runs[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := runs[0]
	for _, r := range runs[1:] {
		if r.inertia < best.inertia {
			best = r
		}
	}
	return best, nil
}

// lloyd runs one initialisation to convergence.
func lloyd(ctx context.Context, points []imaging.Lab, weights []float64, k, maxIter int, tol float64, rng *rand.Rand) (*fitResult, error) {
	centers := seedPlusPlus(points, weights, k, rng)
	labels := make([]int, len(points))
	sums := make([]imaging.Lab, k)
	mass := make([]float64, k)

	iters := 0
	for iters < max(maxIter, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iters++

		assign(points, centers, labels)

		for c := range sums {
			sums[c] = imaging.Lab{}
			mass[c] = 0
		}
		for i, p := range points {
			c := labels[i]
			w := weights[i]
			sums[c][0] += p[0] * w
			sums[c][1] += p[1] * w
			sums[c][2] += p[2] * w
			mass[c] += w
		}

		var shift float64
		for c := range centers {
			if mass[c] == 0 {
				continue // empty cluster keeps its previous centre
			}
			next := imaging.Lab{sums[c][0] / mass[c], sums[c][1] / mass[c], sums[c][2] / mass[c]}
			shift += sqDist(centers[c], next)
			centers[c] = next
		}
		if shift <= tol {
			break
		}
	}

	assign(points, centers, labels)
	var inertia float64
	for i := range points {
		inertia += weights[i] * sqDist(points[i], centers[labels[i]])
	}
	return &fitResult{centers: centers, labels: labels, inertia: inertia, iters: iters}, nil
}

// seedPlusPlus picks k initial centres with weighted k-means++ sampling.
//
// When every remaining point coincides with a chosen centre the data has fewer
// distinct colours than k; further centres then duplicate existing points and end
// up as empty clusters.
func seedPlusPlus(points []imaging.Lab, weights []float64, k int, rng *rand.Rand) []imaging.Lab {
	centers := make([]imaging.Lab, 0, k)
	centers = append(centers, points[sampleIndex(weights, rng)])

	d2 := make([]float64, len(points))
	for i, p := range points {
		d2[i] = sqDist(p, centers[0])
	}

	prob := make([]float64, len(points))
	for len(centers) < k {
		var sum float64
		for i := range points {
			prob[i] = weights[i] * d2[i]
			sum += prob[i]
		}
		var next imaging.Lab
		if sum == 0 {
			next = points[sampleIndex(weights, rng)]
		} else {
			next = points[sampleIndex(prob, rng)]
		}
		centers = append(centers, next)
		for i, p := range points {
			d2[i] = min(d2[i], sqDist(p, next))
		}
	}
	return centers
}

// sampleIndex draws an index with probability proportional to w.
func sampleIndex(w []float64, rng *rand.Rand) int {
	var sum float64
	for _, v := range w {
		sum += v
	}
	target := rng.Float64() * sum
	for i, v := range w {
		target -= v
		if target < 0 {
			return i
		}
	}
	return len(w) - 1
}

// assign labels every point with its nearest centre, lowest index on ties.
func assign(points []imaging.Lab, centers []imaging.Lab, labels []int) {
	for i, p := range points {
		best, bestD := 0, math.Inf(1)
		for c, ctr := range centers {
			if d := sqDist(p, ctr); d < bestD {
				best, bestD = c, d
			}
		}
		labels[i] = best
	}
}

// inertiaOf returns the weighted sum of squared distances of points to their
// nearest centre.
func inertiaOf(points []imaging.Lab, weights []float64, centers []imaging.Lab) float64 {
	var total float64
	for i, p := range points {
		bestD := math.Inf(1)
		for _, ctr := range centers {
			bestD = min(bestD, sqDist(p, ctr))
		}
		total += weights[i] * bestD
	}
	return total
}

// meanVariance is the mean of the weighted per-axis variances.
func meanVariance(points []imaging.Lab, weights []float64) float64 {
	if len(points) < 2 {
		return 0
	}
	axis := make([]float64, len(points))
	var v float64
	for d := 0; d < 3; d++ {
		for i, p := range points {
			axis[i] = p[d]
		}
		v += stat.PopVariance(axis, weights)
	}
	return v / 3
}

func sqDist(a, b imaging.Lab) float64 {
	d0 := a[0] - b[0]
	d1 := a[1] - b[1]
	d2 := a[2] - b[2]
	return d0*d0 + d1*d1 + d2*d2
}

// Package cluster partitions event points with k-means on raw
// (longitude, latitude) values.
package cluster

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/model"
)

const (
	defaultMaxIterations = 300
	defaultRestarts      = 10
)

// KMeans configures a k-means fit. A zero Seed draws one from the clock; the
// seed actually used is reported in Result.
type KMeans struct {
	K             int
	Seed          uint64
	MaxIterations int
	Tolerance     float64
	Restarts      int
}

// Result summarises the winning run.
type Result struct {
	Centroids  [][]float64 // [lon, lat] per label
	Sizes      []int
	Inertia    float64 // sum of squared distances to assigned centroids
	Iterations int
	Seed       uint64
}

// Fit labels every point with a cluster in [0, K). Labels are numbered in
// order of first appearance in points.
func (km KMeans) Fit(points []model.GeoPoint) ([]model.ClusteredPoint, Result, error) {
	if km.K < 1 {
		return nil, Result{}, failure.NewClustering(eris.Errorf("cluster: k must be at least 1, got %d", km.K))
	}
	if len(points) == 0 {
		return nil, Result{}, failure.NewClustering(eris.New("cluster: no points to cluster"))
	}
	if distinct := countDistinct(points); km.K > distinct {
		return nil, Result{}, failure.NewClustering(eris.Errorf(
			"cluster: k=%d exceeds the %d distinct points", km.K, distinct))
	}

	maxIter := km.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	restarts := km.Restarts
	if restarts <= 0 {
		restarts = defaultRestarts
	}
	tol := math.Max(km.Tolerance, 0)

	seed := km.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
		zap.L().Info("cluster: drew random seed", zap.Uint64("seed", seed))
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	data := make([][]float64, len(points))
	for i, p := range points {
		data[i] = []float64{p.Lon, p.Lat}
	}

	var best *run
	for r := 0; r < restarts; r++ {
		cur := lloyd(data, initPlusPlus(data, km.K, rng), maxIter, tol)
		if best == nil || cur.inertia < best.inertia {
			best = cur
		}
	}

	out, res := relabel(points, best, km.K)
	res.Seed = seed

	zap.L().Debug("cluster: fit complete",
		zap.Int("k", km.K),
		zap.Int("points", len(points)),
		zap.Int("iterations", res.Iterations),
		zap.Float64("inertia", res.Inertia),
	)
	return out, res, nil
}

type run struct {
	labels     []int
	centroids  [][]float64
	inertia    float64
	iterations int
}

// initPlusPlus picks k distinct starting centroids with k-means++ seeding.
// When the squared distances underflow to zero the farthest point from the
// chosen centroids is taken instead.
func initPlusPlus(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(data[rng.IntN(len(data))]))

	d2 := make([]float64, len(data))
	near := make([]float64, len(data))
	for len(centroids) < k {
		var sum float64
		last := centroids[len(centroids)-1]
		for i, x := range data {
			if d := floats.Distance(x, last, 2); len(centroids) == 1 || d < near[i] {
				near[i] = d
				d2[i] = sqDist(x, last)
			}
			sum += d2[i]
		}

		pick := -1
		if sum > 0 && !math.IsInf(sum, 1) {
			target := rng.Float64() * sum
			var acc float64
			for i, d := range d2 {
				if d == 0 {
					continue
				}
				pick = i
				acc += d
				if acc > target {
					break
				}
			}
		}
		if pick < 0 {
			pick = floats.MaxIdx(near)
		}
		centroids = append(centroids, clone(data[pick]))
	}
	return centroids
}

// lloyd runs assignment/update rounds until labels settle, centroids move
// less than tol, or maxIter is reached.
func lloyd(data [][]float64, centroids [][]float64, maxIter int, tol float64) *run {
	k := len(centroids)
	labels := make([]int, len(data))
	for i := range labels {
		labels[i] = -1
	}
	counts := make([]int, k)

	iter := 0
	for iter < maxIter {
		iter++

		changed := assign(data, centroids, labels)
		for c := range counts {
			counts[c] = 0
		}
		for _, l := range labels {
			counts[l]++
		}
		if fillEmpty(data, centroids, labels, counts) {
			changed = true
		}

		shift := update(data, labels, counts, centroids)
		if !changed || shift <= tol {
			break
		}
	}

	return &run{
		labels:     labels,
		centroids:  centroids,
		inertia:    inertia(data, centroids, labels),
		iterations: iter,
	}
}

// assign moves every point to its nearest centroid. Ties keep the lower label.
func assign(data, centroids [][]float64, labels []int) bool {
	changed := false
	for i, x := range data {
		bestC, bestD := 0, math.Inf(1)
		for c, m := range centroids {
			if d := floats.Distance(x, m, 2); d < bestD {
				bestC, bestD = c, d
			}
		}
		if labels[i] != bestC {
			labels[i] = bestC
			changed = true
		}
	}
	return changed
}

// fillEmpty gives each empty cluster the point lying farthest from its own
// centroid, taken from a cluster that can spare it.
func fillEmpty(data, centroids [][]float64, labels, counts []int) bool {
	moved := false
	for c := range counts {
		if counts[c] > 0 {
			continue
		}
		far, farD := -1, -1.0
		for i, x := range data {
			if counts[labels[i]] < 2 {
				continue
			}
			if d := floats.Distance(x, centroids[labels[i]], 2); d > farD {
				far, farD = i, d
			}
		}
		if far < 0 {
			continue
		}
		counts[labels[far]]--
		labels[far] = c
		counts[c]++
		centroids[c] = clone(data[far])
		moved = true
	}
	return moved
}

// update recomputes centroids as label means and returns the largest move.
func update(data [][]float64, labels, counts []int, centroids [][]float64) float64 {
	sums := make([][]float64, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, 2)
	}
	for i, x := range data {
		floats.Add(sums[labels[i]], x)
	}

	var shift float64
	for c, s := range sums {
		if counts[c] == 0 {
			continue
		}
		floats.Scale(1/float64(counts[c]), s)
		shift = math.Max(shift, floats.Distance(s, centroids[c], 2))
		centroids[c] = s
	}
	return shift
}

func inertia(data, centroids [][]float64, labels []int) float64 {
	var total float64
	for i, x := range data {
		total += sqDist(x, centroids[labels[i]])
	}
	return total
}

// relabel renumbers clusters by first appearance and builds the output.
func relabel(points []model.GeoPoint, r *run, k int) ([]model.ClusteredPoint, Result) {
	mapping := make([]int, k)
	for i := range mapping {
		mapping[i] = -1
	}
	next := 0
	for _, l := range r.labels {
		if mapping[l] < 0 {
			mapping[l] = next
			next++
		}
	}

	res := Result{
		Centroids:  make([][]float64, k),
		Sizes:      make([]int, k),
		Inertia:    r.inertia,
		Iterations: r.iterations,
	}
	for old, nw := range mapping {
		if nw >= 0 {
			res.Centroids[nw] = r.centroids[old]
		}
	}

	out := make([]model.ClusteredPoint, len(points))
	for i, p := range points {
		label := mapping[r.labels[i]]
		out[i] = model.ClusteredPoint{GeoPoint: p, Cluster: label}
		res.Sizes[label]++
	}
	return out, res
}

func countDistinct(points []model.GeoPoint) int {
	seen := make(map[[2]float64]struct{}, len(points))
	for _, p := range points {
		seen[[2]float64{p.Lon, p.Lat}] = struct{}{}
	}
	return len(seen)
}

func clone(x []float64) []float64 {
	return append([]float64(nil), x...)
}

// sqDist is the squared euclidean distance between a and b.
func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

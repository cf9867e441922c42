package cluster

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/model"
)

func geoPoints(coords ...[2]float64) []model.GeoPoint {
	out := make([]model.GeoPoint, len(coords))
	for i, c := range coords {
		out[i] = model.NewGeoPoint(model.EventRecord{Row: i + 1}, c[0], c[1])
	}
	return out
}

// blobs returns n points scattered around each center.
func blobs(seed uint64, n int, spread float64, centers ...[2]float64) []model.GeoPoint {
	rng := rand.New(rand.NewPCG(seed, seed))
	var coords [][2]float64
	for _, c := range centers {
		for range n {
			coords = append(coords, [2]float64{
				c[0] + (rng.Float64()-0.5)*spread,
				c[1] + (rng.Float64()-0.5)*spread,
			})
		}
	}
	return geoPoints(coords...)
}

func TestFit_DelhiMumbaiScenario(t *testing.T) {
	pts := geoPoints([2]float64{77.1, 28.6}, [2]float64{77.2, 28.7}, [2]float64{72.8, 19.0})

	out, res, err := KMeans{K: 2, Seed: 7}.Fit(pts)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, out[0].Cluster, out[1].Cluster)
	assert.NotEqual(t, out[0].Cluster, out[2].Cluster)
	assert.Equal(t, 0, out[0].Cluster, "labels follow first appearance")
	assert.Equal(t, []int{2, 1}, res.Sizes)
	assert.InDelta(t, 77.15, res.Centroids[0][0], 1e-9)
	assert.InDelta(t, 28.65, res.Centroids[0][1], 1e-9)
	assert.InDelta(t, 0.01, res.Inertia, 1e-9)
	assert.Equal(t, uint64(7), res.Seed)
}

func TestFit_SingleCluster(t *testing.T) {
	pts := blobs(1, 20, 4, [2]float64{77, 28}, [2]float64{88, 22})

	out, res, err := KMeans{K: 1, Seed: 3}.Fit(pts)
	require.NoError(t, err)
	for _, p := range out {
		assert.Equal(t, 0, p.Cluster)
	}
	assert.Equal(t, []int{40}, res.Sizes)
}

func TestFit_EveryLabelUsed(t *testing.T) {
	pts := blobs(11, 15, 1, [2]float64{75, 30}, [2]float64{80, 12}, [2]float64{92, 26}, [2]float64{70, 22}, [2]float64{85, 20})

	for _, k := range []int{2, 3, 5, 8, 13} {
		out, res, err := KMeans{K: k, Seed: 99}.Fit(pts)
		require.NoError(t, err)

		used := make(map[int]int)
		for _, p := range out {
			require.GreaterOrEqual(t, p.Cluster, 0)
			require.Less(t, p.Cluster, k)
			used[p.Cluster]++
		}
		assert.Len(t, used, k, "k=%d: every label must be used", k)
		for c, n := range res.Sizes {
			assert.Equal(t, used[c], n)
		}
	}
}

func TestFit_KEqualsDistinctPointsWithDuplicates(t *testing.T) {
	pts := geoPoints(
		[2]float64{1, 1}, [2]float64{1, 1}, [2]float64{1, 1},
		[2]float64{2, 2}, [2]float64{3, 3},
	)

	out, _, err := KMeans{K: 3, Seed: 5}.Fit(pts)
	require.NoError(t, err)

	assert.Equal(t, out[0].Cluster, out[1].Cluster)
	assert.Equal(t, out[0].Cluster, out[2].Cluster)
	labels := map[int]bool{out[0].Cluster: true, out[3].Cluster: true, out[4].Cluster: true}
	assert.Len(t, labels, 3)
}

func TestFit_SeparatesWellSpacedBlobs(t *testing.T) {
	pts := blobs(2, 25, 0.5, [2]float64{75, 30}, [2]float64{88, 12}, [2]float64{92, 27})

	out, _, err := KMeans{K: 3, Seed: 42}.Fit(pts)
	require.NoError(t, err)

	for b := 0; b < 3; b++ {
		first := out[b*25].Cluster
		for i := b * 25; i < (b+1)*25; i++ {
			assert.Equal(t, first, out[i].Cluster, "blob %d split", b)
		}
	}
	assert.Equal(t, 0, out[0].Cluster)
	assert.Equal(t, 1, out[25].Cluster)
	assert.Equal(t, 2, out[50].Cluster)
}

func TestFit_DeterministicForSeed(t *testing.T) {
	pts := blobs(4, 30, 6, [2]float64{75, 30}, [2]float64{80, 15})

	a, ra, err := KMeans{K: 4, Seed: 123}.Fit(pts)
	require.NoError(t, err)
	b, rb, err := KMeans{K: 4, Seed: 123}.Fit(pts)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, ra, rb)
}

func TestFit_RandomSeedReported(t *testing.T) {
	pts := geoPoints([2]float64{0, 0}, [2]float64{1, 1})

	_, res, err := KMeans{K: 2}.Fit(pts)
	require.NoError(t, err)
	assert.NotZero(t, res.Seed)
}

func TestFit_PreservesPointData(t *testing.T) {
	pts := geoPoints([2]float64{77.1, 28.6}, [2]float64{72.8, 19.0})
	pts[1].Record.Values = map[string]string{"trigger": "rain"}

	out, _, err := KMeans{K: 2, Seed: 1}.Fit(pts)
	require.NoError(t, err)
	assert.Equal(t, pts[1], out[1].GeoPoint)
}

func TestFit_Errors(t *testing.T) {
	pts := geoPoints([2]float64{1, 1}, [2]float64{1, 1}, [2]float64{2, 2})

	tests := []struct {
		name    string
		km      KMeans
		points  []model.GeoPoint
		wantMsg string
	}{
		{"zero k", KMeans{K: 0}, pts, "k must be at least 1"},
		{"negative k", KMeans{K: -2}, pts, "k must be at least 1"},
		{"empty input", KMeans{K: 1}, nil, "no points to cluster"},
		{"k exceeds distinct points", KMeans{K: 3}, pts, "exceeds the 2 distinct points"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.km.Fit(tt.points)
			require.Error(t, err)
			assert.True(t, failure.Is(err, failure.Clustering))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestFillEmpty_TakesFarthestPoint(t *testing.T) {
	data := [][]float64{{0, 0}, {1, 0}, {10, 0}}
	centroids := [][]float64{{0, 0}, {5, 5}}
	labels := []int{0, 0, 0}
	counts := []int{3, 0}

	moved := fillEmpty(data, centroids, labels, counts)
	require.True(t, moved)
	assert.Equal(t, []int{0, 0, 1}, labels)
	assert.Equal(t, []int{2, 1}, counts)
	assert.Equal(t, []float64{10, 0}, centroids[1])
}

func TestInitPlusPlus_DistinctCentroids(t *testing.T) {
	data := [][]float64{{0, 0}, {0, 0}, {0, 0}, {3, 4}}
	rng := rand.New(rand.NewPCG(1, 2))

	for range 20 {
		c := initPlusPlus(data, 2, rng)
		require.Len(t, c, 2)
		assert.NotEqual(t, c[0], c[1])
	}
}

func TestFit_NearlyCoincidentPoints(t *testing.T) {
	pts := geoPoints([2]float64{0, 0}, [2]float64{1e-200, 0})

	for seed := uint64(1); seed <= 5; seed++ {
		out, res, err := KMeans{K: 2, Seed: seed}.Fit(pts)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, 0, out[0].Cluster)
		assert.Equal(t, 1, out[1].Cluster)
		assert.Equal(t, []int{1, 1}, res.Sizes)
	}
}

func TestInitPlusPlus_UnderflowFallsBackToFarthest(t *testing.T) {
	data := [][]float64{{0, 0}, {0, 0}, {1e-200, 0}, {-1e-200, 0}}
	rng := rand.New(rand.NewPCG(3, 4))

	for range 20 {
		c := initPlusPlus(data, 3, rng)
		require.Len(t, c, 3)
		assert.NotEqual(t, c[0], c[1])
		assert.NotEqual(t, c[1], c[2])
		assert.NotEqual(t, c[0], c[2])
	}
}

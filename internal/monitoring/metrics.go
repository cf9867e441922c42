// Package monitoring records pipeline run metrics and writes them in the
// Prometheus text exposition format for the node_exporter textfile collector.
package monitoring

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"

	"github.com/sells-group/safezone-cli/internal/model"
)

const namespace = "safezone"

// RunSnapshot is a point-in-time view of one pipeline run.
type RunSnapshot struct {
	Points       int                     `json:"points"`
	RejectedRows int                     `json:"rejected_rows"`
	Clusters     int                     `json:"clusters"`
	Zones        int                     `json:"zones"`
	Inertia      float64                 `json:"inertia"`
	StageSeconds map[model.Stage]float64 `json:"stage_seconds"`
	CollectedAt  time.Time               `json:"collected_at"`
}

// Recorder collects the metrics of a single run on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	stageDuration *prometheus.GaugeVec
	points        prometheus.Gauge
	rejected      prometheus.Gauge
	clusters      prometheus.Gauge
	zones         prometheus.Gauge
	inertia       prometheus.Gauge
	lastSuccess   prometheus.Gauge

	snap RunSnapshot
}

// NewRecorder creates a Recorder with all metrics registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent in each pipeline stage.",
		}, []string{"stage"}),
		points: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "points",
			Help:      "Event points that entered clustering.",
		}),
		rejected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rejected_rows",
			Help:      "Tabular rows dropped by the skip row policy.",
		}),
		clusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clusters",
			Help:      "Number of clusters requested.",
		}),
		zones: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zones",
			Help:      "Safe zone polygons produced.",
		}),
		inertia: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cluster_inertia",
			Help:      "Sum of squared distances from points to their centroids.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last successful run finished.",
		}),
		snap: RunSnapshot{StageSeconds: make(map[model.Stage]float64)},
	}
	r.registry.MustRegister(r.stageDuration, r.points, r.rejected, r.clusters, r.zones, r.inertia, r.lastSuccess)
	return r
}

// ObserveStage records how long a stage took.
func (r *Recorder) ObserveStage(stage model.Stage, d time.Duration) {
	r.stageDuration.WithLabelValues(string(stage)).Set(d.Seconds())
	r.snap.StageSeconds[stage] = d.Seconds()
}

// SetPoints records the accepted and rejected row counts.
func (r *Recorder) SetPoints(accepted, rejected int) {
	r.points.Set(float64(accepted))
	r.rejected.Set(float64(rejected))
	r.snap.Points = accepted
	r.snap.RejectedRows = rejected
}

// SetClusters records the cluster count and inertia.
func (r *Recorder) SetClusters(k int, inertia float64) {
	r.clusters.Set(float64(k))
	r.inertia.Set(inertia)
	r.snap.Clusters = k
	r.snap.Inertia = inertia
}

// SetZones records the zone count.
func (r *Recorder) SetZones(n int) {
	r.zones.Set(float64(n))
	r.snap.Zones = n
}

// Snapshot returns a copy of the values recorded so far.
func (r *Recorder) Snapshot() RunSnapshot {
	s := r.snap
	s.StageSeconds = make(map[model.Stage]float64, len(r.snap.StageSeconds))
	for k, v := range r.snap.StageSeconds {
		s.StageSeconds[k] = v
	}
	s.CollectedAt = time.Now().UTC()
	return s
}

// WriteTextfile stamps the success time and writes every metric to path.
func (r *Recorder) WriteTextfile(path string) error {
	r.lastSuccess.SetToCurrentTime()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "monitoring: create directory for %s", path)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return eris.Wrapf(err, "monitoring: write textfile %s", path)
	}
	return nil
}

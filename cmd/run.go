package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/safezone-cli/internal/config"
	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Cluster landslide events and export safe zones",
	Long: `Loads the boundary shapefile and the event table, clusters the events with
k-means, buffers every event into a safe zone, optionally renders the maps, and
writes both layers into the GeoPackage project. Flags override config.yaml and
SAFEZONE_* environment variables.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := applyRunFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return failure.NewConfig(err)
		}

		res, err := pipeline.New(cfg).Run(ctx)
		if err != nil {
			return err
		}

		if res.Empty {
			zap.L().Warn("no landslide events found, nothing was written")
			return nil
		}
		formatRunSummary(os.Stdout, cfg.Output.ProjectPath, res)
		return nil
	},
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

// addRunFlags declares the run flags on cmd.
func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("boundary", "", "boundary shapefile (.shp or .zip)")
	f.String("events", "", "landslide event table (.csv, .tsv, .txt or .xlsx)")
	f.String("project", "", "GeoPackage project to create or update")
	f.Int("clusters", 5, "number of k-means clusters")
	f.Float64("buffer", 0.05, "safe zone buffer distance, in --units")
	f.Uint64("seed", 0, "k-means seed; 0 draws one from the clock")
	f.String("units", "degrees", "buffer units: degrees or meters")
	f.String("row-policy", "strict", "invalid coordinate rows: strict or skip")
	f.String("plot-dir", "", "directory for clusters.png and safe_zones.png")
	f.String("geojson-dir", "", "directory for GeoJSON copies of both layers")
	f.String("metrics-file", "", "Prometheus textfile to write after a successful run")
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, c *config.Config) error {
	f := cmd.Flags()
	var err error
	str := func(name string, dst *string) {
		if err == nil && f.Changed(name) {
			*dst, err = f.GetString(name)
		}
	}
	str("boundary", &c.Input.BoundaryPath)
	str("events", &c.Input.EventsPath)
	str("project", &c.Output.ProjectPath)
	str("units", &c.Zone.Units)
	str("row-policy", &c.Input.RowPolicy)
	str("plot-dir", &c.Output.PlotDir)
	str("geojson-dir", &c.Output.GeoJSONDir)
	str("metrics-file", &c.Output.MetricsFile)
	if err == nil && f.Changed("clusters") {
		c.Cluster.Count, err = f.GetInt("clusters")
	}
	if err == nil && f.Changed("buffer") {
		c.Zone.BufferDistance, err = f.GetFloat64("buffer")
	}
	if err == nil && f.Changed("seed") {
		c.Cluster.Seed, err = f.GetUint64("seed")
	}
	if err != nil {
		return failure.NewConfig(err)
	}
	return nil
}

// formatRunSummary writes the outcome of a run to w.
func formatRunSummary(out io.Writer, projectPath string, res *pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.Run.ID)
	_, _ = fmt.Fprintf(w, "Project:\t%s\n", projectPath)
	_, _ = fmt.Fprintf(w, "Points:\t%d\n", res.Run.Points)
	if len(res.Rejected) > 0 {
		_, _ = fmt.Fprintf(w, "Rejected rows:\t%d\n", len(res.Rejected))
	}
	_, _ = fmt.Fprintf(w, "Clusters:\t%d (seed %d)\n", res.Run.ClusterCount, res.Run.Seed)
	_, _ = fmt.Fprintf(w, "Inertia:\t%.6f\n", res.Run.Inertia)
	_, _ = fmt.Fprintf(w, "Safe zones:\t%d\n", res.Run.Zones)
	_ = w.Flush()

	if len(res.Cluster.Sizes) > 0 {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "CLUSTER\tPOINTS\tCENTROID_LON\tCENTROID_LAT")
		for i, n := range res.Cluster.Sizes {
			c := res.Cluster.Centroids[i]
			_, _ = fmt.Fprintf(w, "%d\t%d\t%.5f\t%.5f\n", i, n, c[0], c[1])
		}
		_ = w.Flush()
	}

	for _, paths := range [][]string{res.Plots, res.GeoJSON} {
		for _, p := range paths {
			_, _ = fmt.Fprintf(out, "wrote %s\n", p)
		}
	}
}

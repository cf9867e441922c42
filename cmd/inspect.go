package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/safezone-cli/internal/model"
	"github.com/sells-group/safezone-cli/internal/project"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <project>",
	Short: "List the layers and runs stored in a GeoPackage project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := args[0]

		p, err := project.OpenReadOnly(ctx, path)
		if err != nil {
			return err
		}
		defer p.Close() //nolint:errcheck

		layers, err := p.Layers(ctx)
		if err != nil {
			return err
		}
		runs, err := p.Runs(ctx)
		if err != nil {
			return err
		}
		projects, err := p.QGISProjects(ctx)
		if err != nil {
			return err
		}

		formatLayers(os.Stdout, layers)
		if len(runs) > 0 {
			_, _ = fmt.Fprintln(os.Stdout)
			formatRuns(os.Stdout, runs)
		}
		for _, name := range projects {
			_, _ = fmt.Fprintf(os.Stdout, "\nQGIS project: %s\n", name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

// formatLayers writes a table of layers to w.
func formatLayers(out io.Writer, layers []project.LayerInfo) {
	if len(layers) == 0 {
		_, _ = fmt.Fprintln(out, "No layers found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LAYER\tTABLE\tGEOMETRY\tFEATURES\tEXTENT")
	for _, l := range layers {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.4f,%.4f %.4f,%.4f\n",
			l.Identifier, l.Table, l.GeometryType, l.Features, l.MinX, l.MinY, l.MaxX, l.MaxY)
	}
	_ = w.Flush()
}

// formatRuns writes a table of recorded runs to w.
func formatRuns(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tCREATED\tCLUSTERS\tSEED\tBUFFER\tPOINTS\tZONES")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%g %s\t%d\t%d\n",
			r.ID, r.CreatedAt.Format(time.RFC3339), r.ClusterCount, r.Seed,
			r.BufferDistance, r.BufferUnits, r.Points, r.Zones)
	}
	_ = w.Flush()
}

package main

import (
	"fmt"
	"io"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/correction"
)

// tableSummary describes the distribution of a table's weights.
type tableSummary struct {
	Name                   string
	Min, Max, Mean, Median float64
	StdDev                 float64
	Zeros                  int
}

func summarize(name string, values []float64) (tableSummary, error) {
	s := tableSummary{Name: name}
	if len(values) == 0 {
		return s, errors.Errorf("table %s is empty", name)
	}
	var err error
	if s.Min, err = stats.Min(values); err != nil {
		return s, err
	}
	if s.Max, err = stats.Max(values); err != nil {
		return s, err
	}
	if s.Mean, err = stats.Mean(values); err != nil {
		return s, err
	}
	if s.Median, err = stats.Median(values); err != nil {
		return s, err
	}
	if s.StdDev, err = stats.StandardDeviation(values); err != nil {
		return s, err
	}
	for _, v := range values {
		if v == 0 {
			s.Zeros++
		}
	}
	return s, nil
}

func summarizeTable(name string, t *correction.Table) (tableSummary, error) {
	return summarize(name, mat.DenseCopyOf(t.Values).RawMatrix().Data)
}

func renderSummaries(w io.Writer, summaries []tableSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Table", "Min", "Max", "Mean", "Median", "Std Dev", "Zeros"})
	for _, s := range summaries {
		t.AppendRow(table.Row{
			s.Name,
			fmt.Sprintf("%.6g", s.Min),
			fmt.Sprintf("%.6g", s.Max),
			fmt.Sprintf("%.6g", s.Mean),
			fmt.Sprintf("%.6g", s.Median),
			fmt.Sprintf("%.6g", s.StdDev),
			s.Zeros,
		})
	}
	t.Render()
}

// tableGrid presents a correction table as a heat map grid in beamspace, with rows flipped
// so that y increases upward.
type tableGrid struct {
	values *mat.Dense
	model  *calibration.Model
}

func (g tableGrid) Dims() (c, r int) {
	r, c = g.values.Dims()
	return c, r
}

func (g tableGrid) Z(c, r int) float64 {
	rows, _ := g.values.Dims()
	return g.values.At(rows-1-r, c)
}

func (g tableGrid) X(c int) float64 {
	return g.model.OutputToBeam(float64(c), 0).X
}

func (g tableGrid) Y(r int) float64 {
	rows, _ := g.values.Dims()
	return g.model.OutputToBeam(0, float64(rows-1-r)).Y
}

// plotTable writes a heat map of t to path. The image format follows the file extension.
func plotTable(path, title string, t *correction.Table) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (mm)"
	p.Y.Label.Text = "y (mm)"

	h := plotter.NewHeatMap(tableGrid{values: t.Values, model: t.Model}, palette.Heat(64, 1))
	if h.Min == h.Max {
		// a flat table still needs a non-empty color range
		h.Min, h.Max = h.Min-0.5, h.Max+0.5
	}
	if math.IsInf(h.Min, 0) || math.IsInf(h.Max, 0) {
		return errors.Errorf("table %s has infinite weights", title)
	}
	p.Add(h)
	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}

package cli

import (
	"io"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const terminalHistogramWidth = 50

// printHistogram draws the distribution of disparities as text bars.
func printHistogram(w io.Writer, values []float64, bins int) error {
	if len(values) == 0 {
		printf(w, "no valid disparities")
		return nil
	}
	h := histogram.Hist(bins, values)
	return histogram.Fprint(w, h, histogram.Linear(terminalHistogramWidth))
}

// saveHistogram plots the distribution of disparities to an image file.
func saveHistogram(path, title string, values []float64, bins int) error {
	if len(values) == 0 {
		return errors.New("no valid disparities to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "disparity (px)"
	p.Y.Label.Text = "pixels"

	h, err := plotter.NewHist(plotter.Values(values), bins)
	if err != nil {
		return errors.Wrap(err, "building histogram")
	}
	p.Add(h)
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

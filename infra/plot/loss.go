// Package plot renders training curves with gonum/plot.
package plot

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/kilianp07/evrange/core/training"
)

// LossPlotter writes <Dir>/<runID>/loss.png.
type LossPlotter struct {
	Dir string
}

// NewLossPlotter returns a plotter writing below dir.
func NewLossPlotter(dir string) *LossPlotter { return &LossPlotter{Dir: dir} }

// PlotLoss implements training.CurvePlotter. The Y axis is logarithmic unless
// a loss is not strictly positive.
func (p *LossPlotter) PlotLoss(runID string, history []training.EpochRecord) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("plot %s: empty history", runID)
	}
	train := make(plotter.XYs, len(history))
	val := make(plotter.XYs, len(history))
	logScale := true
	for i, h := range history {
		train[i] = plotter.XY{X: float64(h.Epoch), Y: h.TrainLoss}
		val[i] = plotter.XY{X: float64(h.Epoch), Y: h.ValLoss}
		if h.TrainLoss <= 0 || h.ValLoss <= 0 {
			logScale = false
		}
	}

	pl := plot.New()
	pl.Title.Text = "Loss curves " + runID
	pl.X.Label.Text = "epoch"
	pl.Y.Label.Text = "MSE (scaled)"
	if logScale {
		pl.Y.Scale = plot.LogScale{}
		pl.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}
	pl.Add(plotter.NewGrid())

	tl, err := plotter.NewLine(train)
	if err != nil {
		return "", err
	}
	tl.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	tl.Width = vg.Points(1.2)
	pl.Add(tl)
	pl.Legend.Add("train", tl)

	vl, err := plotter.NewLine(val)
	if err != nil {
		return "", err
	}
	vl.Color = color.RGBA{R: 200, G: 30, B: 30, A: 255}
	vl.Width = vg.Points(1.2)
	vl.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	pl.Add(vl)
	pl.Legend.Add("validation", vl)
	pl.Legend.Top = true

	dir := filepath.Join(p.Dir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(dir, "loss.png")
	if err := pl.Save(8*vg.Inch, 5*vg.Inch, out); err != nil {
		return "", err
	}
	return out, nil
}

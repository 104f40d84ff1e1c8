package debug

import (
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Plot 收敛曲线图片
type Plot struct {
	*Recorder
	Width, Height vg.Length // 默认 16cm x 10cm
}

// Render 按格式（png、svg、pdf 等）输出最大残差曲线，纵轴为对数坐标
func (p *Plot) Render(w io.Writer, format string) error {
	pl := plot.New()
	pl.Title.Text = "Newton-Raphson mismatch"
	pl.X.Label.Text = "iteration"
	pl.Y.Label.Text = "max |f| (pu)"
	pl.Y.Scale = plot.LogScale{}
	pl.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	pl.Add(plotter.NewGrid())

	lo, hi := math.Inf(1), math.Inf(-1)
	for i, rec := range p.Records() {
		if len(rec.Mismatch) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(rec.Mismatch))
		for k, v := range rec.Mismatch {
			xys[k].X = float64(k)
			xys[k].Y = math.Max(v, 1e-16)
			lo, hi = math.Min(lo, xys[k].Y), math.Max(hi, xys[k].Y)
		}
		line, points, err := plotter.NewLinePoints(xys)
		if err != nil {
			return fmt.Errorf("debug: component %d: %w", rec.Component, err)
		}
		line.Color = plotutil.Color(i)
		points.Color = plotutil.Color(i)
		points.Shape = plotutil.Shape(i)
		pl.Add(line, points)
		pl.Legend.Add(fmt.Sprintf("component %d", rec.Component), line, points)
	}

	if math.IsInf(lo, 1) {
		return errors.New("debug: no iterations recorded")
	}
	// 对数坐标范围不能退化
	if lo == hi {
		lo, hi = lo/10, hi*10
	}
	pl.Y.Min, pl.Y.Max = lo, hi

	width, height := p.Width, p.Height
	if width == 0 {
		width = 16 * vg.Centimeter
	}
	if height == 0 {
		height = 10 * vg.Centimeter
	}
	wt, err := pl.WriterTo(width, height, format)
	if err != nil {
		return fmt.Errorf("debug: plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

package debug

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

// Charts 收敛曲线网页
type Charts struct {
	*Recorder
}

func newLine(title, subtitle string, logScale bool) *charts.Line {
	line := charts.NewLine()
	y := opts.YAxis{Scale: opts.Bool(true)}
	if logScale {
		y.Type = "log"
	}
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeWesteros,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: subtitle,
		}),
		charts.WithLegendOpts(opts.Legend{
			Type:   "scroll",
			Orient: "vertical",
			Right:  "10",
			Top:    "20",
			Bottom: "20",
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Name: "iteration",
		}),
		charts.WithYAxisOpts(y),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithAnimation(false),
	)
	return line
}

// lineData 对数坐标下零值无法显示，用 floor 代替
func lineData(values []float64, floor float64) []opts.LineData {
	items := make([]opts.LineData, len(values))
	for i, v := range values {
		items[i].Value = math.Max(v, floor)
	}
	return items
}

// Render 输出 HTML 页面
func (c *Charts) Render(w io.Writer) error {
	records := c.Records()
	mismatch := newLine("最大残差", "各分量牛顿迭代最大残差(pu)", true)
	norm := newLine("残差范数", "各分量牛顿迭代残差 2 范数(pu)", true)
	longest := 0
	for _, rec := range records {
		longest = max(longest, len(rec.Mismatch))
	}
	axis := make([]int, longest)
	for i := range axis {
		axis[i] = i
	}
	mismatch.SetXAxis(axis)
	norm.SetXAxis(axis)
	for _, rec := range records {
		name := fmt.Sprintf("component %d", rec.Component)
		mismatch.AddSeries(name, lineData(rec.Mismatch, 1e-16))
		norm.AddSeries(name, lineData(rec.Norm, 1e-16))
	}

	page := components.NewPage()
	page.PageTitle = "loadflow"
	page.AddCharts(mismatch, norm)
	return page.Render(w)
}

// Handler 发布到网页
func (c *Charts) Handler(w http.ResponseWriter, _ *http.Request) {
	if err := c.Render(w); err != nil {
		slog.Error("render charts", "err", err)
	}
}

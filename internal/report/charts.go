package report

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/samber/lo"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/lanedetect/internal/area"
	"github.com/banshee-data/lanedetect/internal/loop"
	"github.com/banshee-data/lanedetect/internal/units"
)

// LoopSeries is the periodic history of one loop detector.
type LoopSeries struct {
	DetectorID string
	Records    []loop.Record
}

// AreaSeries is the transition history of one area detector up to End.
type AreaSeries struct {
	DetectorID  string
	Transitions []area.Transition
	End         time.Duration
}

// WriteDashboard renders an HTML page with a flow chart of the loops and an
// occupancy timeline of the areas.
func WriteDashboard(w io.Writer, title string, loops []LoopSeries, areas []AreaSeries) error {
	page := components.NewPage()
	page.AddCharts(flowChart(title, loops), occupancyChart(title, areas))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render dashboard: %w", err)
	}
	return nil
}

func flowChart(title string, loops []LoopSeries) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Flow", Subtitle: fmt.Sprintf("%s loops=%d", title, len(loops))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time (min)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Flow (veh/h)"}),
	)
	for _, s := range loops {
		data := lo.Map(s.Records, func(r loop.Record, _ int) opts.LineData {
			return opts.LineData{Value: []interface{}{r.End.Minutes(), units.ConvertFlow(r.Flow, units.VehPerHour)}}
		})
		line.AddSeries(s.DetectorID, data)
	}
	return line
}

// occupancyChart draws each area as a 0/1 step function.
func occupancyChart(title string, areas []AreaSeries) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "300px"}),
		charts.WithTitleOpts(opts.Title{Title: "Area occupancy"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time (min)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Occupied", Min: 0, Max: 1}),
	)
	for _, a := range areas {
		line.AddSeries(a.DetectorID, stepData(a))
	}
	return line
}

func stepData(a AreaSeries) []opts.LineData {
	point := func(t time.Duration, occupied bool) opts.LineData {
		return opts.LineData{Value: []interface{}{t.Minutes(), lo.Ternary(occupied, 1, 0)}}
	}
	data := []opts.LineData{point(0, false)}
	last := false
	for _, tr := range a.Transitions {
		data = append(data, point(tr.Time, last), point(tr.Time, tr.Occupied))
		last = tr.Occupied
	}
	return append(data, point(a.End, last))
}

// WriteSpeedPlot saves a PNG of the mean speed per period of each loop, in
// speedUnits. Periods without vehicles are left out.
func WriteSpeedPlot(path string, loops []LoopSeries, speedUnits string) error {
	p := plot.New()
	p.Title.Text = "Mean speed per aggregation period"
	p.X.Label.Text = "Time (min)"
	p.Y.Label.Text = fmt.Sprintf("Speed (%s)", speedUnits)

	for i, s := range loops {
		pts := make(plotter.XYs, 0, len(s.Records))
		for _, r := range s.Records {
			v, ok := r.Values[SpeedName].(float64)
			if !ok || math.IsNaN(v) {
				continue
			}
			pts = append(pts, plotter.XY{X: r.End.Minutes(), Y: units.ConvertSpeed(v/units.MPSToKMPH, speedUnits)})
		}
		if len(pts) == 0 {
			continue
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		l.Color = plotutil.Color(i)
		l.Width = vg.Points(1)
		p.Add(l)
		p.Legend.Add(s.DetectorID, l)
	}

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save speed plot %s: %w", path, err)
	}
	return nil
}

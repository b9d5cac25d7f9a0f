package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/temperature.report/internal/httputil"
	"github.com/banshee-data/temperature.report/internal/monitoring"
)

// AttachAdminRoutes adds the chart page to the /debug/ index.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("chart", "Temperature chart (last hour)", s.handleChart)
}

// handleChart renders the history plot as a standalone HTML page. It takes
// the same window and points parameters as /api/range. Failed reads leave a
// gap in the line.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	since, until, err := s.window(q, defaultRangeWindow)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	points, err := intParam(q, "points", s.opts.MaxPlotPoints, 1, maxPlotPoints)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	data, err := s.loadSeries(r, since, until, points)
	if err != nil {
		monitoring.Logf("api: %v", err)
		httputil.InternalServerError(w, "failed to retrieve readings")
		return
	}

	loc := s.opts.Location
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Temperatures", Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Temperatures",
			Subtitle: fmt.Sprintf("%s to %s", since.In(loc).Format("2006-01-02 15:04"), until.In(loc).Format("2006-01-02 15:04")),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time", Name: "Time"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "°C", Scale: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	for _, sr := range data {
		values := make([]opts.LineData, len(sr.Points))
		for i, p := range sr.Points {
			ms := int64(p.T * 1000)
			if p.V == nil {
				values[i] = opts.LineData{Value: []interface{}{ms, "-"}}
				continue
			}
			values[i] = opts.LineData{Value: []interface{}{ms, *p.V}}
		}
		seriesOpts := []charts.SeriesOpts{
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		}
		if sr.Color != "" {
			seriesOpts = append(seriesOpts,
				charts.WithItemStyleOpts(opts.ItemStyle{Color: sr.Color}),
				charts.WithLineStyleOpts(opts.LineStyle{Color: sr.Color}),
			)
		}
		line.AddSeries(sr.Name, values, seriesOpts...)
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

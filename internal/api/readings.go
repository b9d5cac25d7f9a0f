package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/banshee-data/temperature.report/internal/config"
	"github.com/banshee-data/temperature.report/internal/db"
	"github.com/banshee-data/temperature.report/internal/httputil"
	"github.com/banshee-data/temperature.report/internal/monitoring"
	"github.com/banshee-data/temperature.report/internal/protocol"
)

// temperature converts a stored value for display; failed reads become null.
func temperature(v float64) *float64 {
	if v == protocol.Sentinel {
		return nil
	}
	return &v
}

type latestRow struct {
	Date   string           `json:"date"`
	Time   string           `json:"time"`
	Values map[int]*float64 `json:"values"`
}

// handleLatest serves the live table: the newest display rows with one
// value per configured instrument.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := intParam(r.URL.Query(), "limit", s.opts.LatestRows, 1, maxLatestRows)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	rows, err := s.db.Latest(r.Context(), limit)
	if err != nil {
		monitoring.Logf("api: %v", err)
		httputil.InternalServerError(w, "failed to retrieve latest readings")
		return
	}

	instruments := s.live.Snapshot().Instruments
	out := make([]latestRow, len(rows))
	for i, row := range rows {
		values := make(map[int]*float64, len(instruments))
		for _, inst := range instruments {
			if v, ok := row.Values[inst.Addr]; ok {
				values[inst.Addr] = temperature(v)
			} else {
				values[inst.Addr] = nil
			}
		}
		out[i] = latestRow{Date: row.DateKey, Time: row.TimeKey, Values: values}
	}
	httputil.WriteJSONOK(w, out)
}

type point struct {
	T float64  `json:"t"`
	V *float64 `json:"v"`
}

type series struct {
	Addr   int     `json:"addr"`
	Name   string  `json:"name"`
	Color  string  `json:"color,omitempty"`
	Points []point `json:"points"`
}

type rangeResponse struct {
	Since  time.Time `json:"since"`
	Until  time.Time `json:"until"`
	Series []series  `json:"series"`
}

// loadSeries runs a downsampled range query for the configured instruments
// and returns one series per instrument in configuration order.
func (s *Server) loadSeries(r *http.Request, since, until time.Time, points int) ([]series, error) {
	instruments := s.live.Snapshot().Instruments
	res, err := s.db.Range(r.Context(), db.RangeQuery{
		Since:        since,
		Until:        until,
		DownsampleTo: points,
		Addresses:    config.Addresses(instruments),
	})
	if err != nil {
		return nil, err
	}

	out := make([]series, 0, len(instruments))
	for _, inst := range instruments {
		pts := res[inst.Addr]
		sr := series{Addr: inst.Addr, Name: inst.Name, Color: inst.Color, Points: make([]point, len(pts))}
		for i, p := range pts {
			sr.Points[i] = point{T: p.Timestamp, V: temperature(p.Temperature)}
		}
		out = append(out, sr)
	}
	return out, nil
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
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

	out, err := s.loadSeries(r, since, until, points)
	if err != nil {
		monitoring.Logf("api: %v", err)
		httputil.InternalServerError(w, "failed to retrieve readings")
		return
	}
	httputil.WriteJSONOK(w, rangeResponse{Since: since, Until: until, Series: out})
}

// handleExport streams the readings in the window as a CSV download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	since, until, err := s.window(r.URL.Query(), defaultExportWindow)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	// buffer so an empty range or query error can still become a JSON error
	var buf bytes.Buffer
	names := config.Names(s.live.Snapshot().Instruments)
	err = s.db.ExportCSV(r.Context(), &buf, since, until, names)
	switch {
	case errors.Is(err, db.ErrNoReadings):
		httputil.NotFound(w, "no readings in the selected time range")
		return
	case err != nil:
		monitoring.Logf("api: %v", err)
		httputil.InternalServerError(w, "failed to export readings")
		return
	}

	loc := s.opts.Location
	httputil.SetAttachment(w, "text/csv; charset=utf-8", db.ExportFilename(since.In(loc), until.In(loc)))
	w.Header().Set("Content-Length", fmt.Sprint(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

type statsEntry struct {
	db.SeriesStats
	Name string `json:"name"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	since, until, err := s.window(r.URL.Query(), 24*time.Hour)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	stats, err := s.db.Stats(r.Context(), since, until)
	if err != nil {
		monitoring.Logf("api: %v", err)
		httputil.InternalServerError(w, "failed to compute statistics")
		return
	}

	names := config.Names(s.live.Snapshot().Instruments)
	out := make([]statsEntry, 0, len(stats))
	for addr, st := range stats {
		out = append(out, statsEntry{SeriesStats: st, Name: db.ColumnName(names, addr)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	httputil.WriteJSONOK(w, out)
}

package api

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/temperature.report/internal/config"
	"github.com/banshee-data/temperature.report/internal/db"
	"github.com/banshee-data/temperature.report/internal/monitoring"
	"github.com/banshee-data/temperature.report/internal/poller"
	"github.com/banshee-data/temperature.report/internal/serialport"
	"github.com/banshee-data/temperature.report/internal/timeutil"
)

// ANSI escape codes for the request log
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

const (
	defaultRangeWindow  = time.Hour
	defaultExportWindow = 5 * time.Hour
	maxLatestRows       = 1000
	maxPlotPoints       = 100000
)

//go:embed static
var staticFiles embed.FS

// StatusSource reports the poller's current state.
type StatusSource interface {
	Status() poller.Status
}

type Options struct {
	InstrumentsFile string
	MaxPlotPoints   int
	LatestRows      int
	// Location renders times given without a zone; nil means local time.
	Location  *time.Location
	Clock     timeutil.Clock
	ListPorts func() ([]string, error)
}

type Server struct {
	db     *db.DB
	live   *config.Live
	poller StatusSource
	opts   Options

	// writeMu serialises settings changes so the instruments file and the
	// live settings agree.
	writeMu sync.Mutex
}

func NewServer(database *db.DB, live *config.Live, p StatusSource, opts Options) *Server {
	if opts.MaxPlotPoints <= 0 {
		opts.MaxPlotPoints = config.DefaultMaxPlotPoints
	}
	if opts.LatestRows <= 0 {
		opts.LatestRows = config.DefaultLatestRows
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.ListPorts == nil {
		opts.ListPorts = serialport.ListPorts
	}
	return &Server{db: database, live: live, poller: p, opts: opts}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/range", s.handleRange)
	mux.HandleFunc("/api/export.csv", s.handleExport)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/ports", s.handlePorts)
	mux.HandleFunc("/api/instruments", s.handleInstruments)
	mux.HandleFunc("/api/serial", s.handleSerial)

	static, _ := fs.Sub(staticFiles, "static")
	mux.Handle("/", http.FileServer(http.FS(static)))
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	code := strconv.Itoa(statusCode)
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + code + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + code + colorReset
	case statusCode >= 400:
		return colorBoldRed + code + colorReset
	default:
		return code
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// parseTime accepts unix seconds, RFC 3339, or "2006-01-02 15:04[:05]" in
// loc.
func parseTime(v string, loc *time.Location) (time.Time, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		whole := int64(secs)
		return time.Unix(whole, int64((secs-float64(whole))*1e9)), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", v)
}

// positiveFloat parses an optional positive number; ok is false when the
// key is absent.
func positiveFloat(q url.Values, key string) (v float64, ok bool, err error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, false, nil
	}
	v, err = strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, false, fmt.Errorf("invalid '%s' parameter", key)
	}
	return v, true, nil
}

// window resolves the since/until/minutes/hours query parameters. until
// defaults to now; since defaults to until minus minutes, hours, or def, in
// that order of preference.
func (s *Server) window(q url.Values, def time.Duration) (since, until time.Time, err error) {
	until = s.opts.Clock.Now()
	if v := q.Get("until"); v != "" {
		if until, err = parseTime(v, s.opts.Location); err != nil {
			return since, until, fmt.Errorf("invalid 'until' parameter: %v", err)
		}
	}

	if v := q.Get("since"); v != "" {
		if since, err = parseTime(v, s.opts.Location); err != nil {
			return since, until, fmt.Errorf("invalid 'since' parameter: %v", err)
		}
	} else {
		span := def
		if m, ok, err := positiveFloat(q, "minutes"); err != nil {
			return since, until, err
		} else if ok {
			span = time.Duration(m * float64(time.Minute))
		} else if h, ok, err := positiveFloat(q, "hours"); err != nil {
			return since, until, err
		} else if ok {
			span = time.Duration(h * float64(time.Hour))
		}
		since = until.Add(-span)
	}

	if since.After(until) {
		return since, until, fmt.Errorf("'since' is after 'until'")
	}
	return since, until, nil
}

// intParam parses an optional integer in [lo, hi].
func intParam(q url.Values, key string, def, lo, hi int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("invalid '%s' parameter", key)
	}
	return v, nil
}

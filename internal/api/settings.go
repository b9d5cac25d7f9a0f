package api

import (
	"net/http"

	"github.com/banshee-data/temperature.report/internal/config"
	"github.com/banshee-data/temperature.report/internal/db"
	"github.com/banshee-data/temperature.report/internal/httputil"
	"github.com/banshee-data/temperature.report/internal/monitoring"
	"github.com/banshee-data/temperature.report/internal/poller"
	"github.com/banshee-data/temperature.report/internal/protocol"
	"github.com/banshee-data/temperature.report/internal/version"
)

// recentSessions is how many poll sessions the status endpoint lists.
const recentSessions = 10

type statusResponse struct {
	Poller   poller.Status    `json:"poller"`
	Sessions []db.PollSession `json:"sessions"`
	Settings config.Settings  `json:"settings"`
	Version  version.Info     `json:"version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sessions, err := s.db.RecentPollSessions(r.Context(), recentSessions)
	if err != nil {
		monitoring.Logf("api: %v", err)
	}
	httputil.WriteJSONOK(w, statusResponse{
		Poller:   s.poller.Status(),
		Sessions: sessions,
		Settings: s.live.Snapshot(),
		Version:  version.Current(),
	})
}

// handlePorts lists selectable serial ports. Enumeration failures still
// return the fallback names.
func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ports, err := s.opts.ListPorts()
	if err != nil {
		monitoring.Logf("api: listing serial ports: %v", err)
	}
	if ports == nil {
		ports = []string{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"ports":     ports,
		"protocols": []string{protocol.AIBUS.String(), protocol.Modbus.String()},
		"selected":  s.live.Snapshot().Port,
	})
}

// handleInstruments reads or replaces the instrument list. A replacement is
// validated against the selected protocol, written to the instruments file
// and picked up by the poller on its next cycle.
func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.live.Snapshot().Instruments)
	case http.MethodPut:
		var list []config.Instrument
		if !httputil.DecodeJSON(w, r, &list) {
			return
		}
		if list == nil {
			list = []config.Instrument{}
		}

		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		if err := config.ValidateInstruments(list, s.live.Snapshot().Protocol); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if s.opts.InstrumentsFile != "" {
			if err := config.SaveInstruments(s.opts.InstrumentsFile, list); err != nil {
				monitoring.Logf("api: %v", err)
				httputil.InternalServerError(w, "failed to save instruments")
				return
			}
		}
		if err := s.live.SetInstruments(list); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		monitoring.Logf("api: instrument list replaced (%d instruments)", len(list))
		httputil.WriteJSONOK(w, list)
	default:
		httputil.MethodNotAllowed(w)
	}
}

type serialRequest struct {
	Port     string `json:"port"`
	Protocol string `json:"protocol"`
}

// handleSerial selects the port and protocol. An empty port stops polling.
func (s *Server) handleSerial(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snap := s.live.Snapshot()
		httputil.WriteJSONOK(w, serialRequest{Port: snap.Port, Protocol: snap.Protocol.String()})
	case http.MethodPut:
		var req serialRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		p, err := protocol.ParseProtocol(req.Protocol)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}

		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		if err := s.live.SetSerial(req.Port, p); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		monitoring.Logf("api: serial selection %q %s", req.Port, p)
		httputil.WriteJSONOK(w, serialRequest{Port: req.Port, Protocol: p.String()})
	default:
		httputil.MethodNotAllowed(w)
	}
}

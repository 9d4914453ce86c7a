// Package ops is the operator-facing HTTP surface of a running process:
// session status, trade history, performance aggregates, the risk-event
// audit log, and stop/halt/resume controls. It is a control plane, not a
// dashboard; responses are plain JSON.
package ops

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rustyeddy/autopilot/ledger"
	"github.com/rustyeddy/autopilot/session"
)

type Server struct {
	reg   *session.Registry
	store ledger.Store
}

// Handler returns the control-plane mux, with Prometheus metrics mounted at
// /metrics.
func Handler(reg *session.Registry, store ledger.Store) http.Handler {
	s := &Server{reg: reg, store: store}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /sessions", s.listSessions)
	mux.HandleFunc("GET /sessions/{name}", s.status)
	mux.HandleFunc("GET /sessions/{name}/trades", s.trades)
	mux.HandleFunc("GET /sessions/{name}/perf", s.perf)
	mux.HandleFunc("GET /sessions/{name}/risk-events", s.riskEvents)
	mux.HandleFunc("POST /sessions/{name}/stop", s.stop)
	mux.HandleFunc("POST /sessions/{name}/halt", s.halt)
	mux.HandleFunc("POST /sessions/{name}/resume", s.resume)
	return mux
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name  string        `json:"name"`
		State session.State `json:"state"`
	}
	var out []entry
	for _, name := range s.reg.Names() {
		st, err := s.reg.Status(name)
		if err != nil {
			continue
		}
		out = append(out, entry{Name: name, State: st.State})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	st, err := s.reg.Status(name)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       st.Name,
		"state":      st.State,
		"open_trade": st.OpenTrade,
	})
}

func (s *Server) trades(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.PathValue("name"))
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	trades, err := s.store.ListTrades(sess.ID, 200)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) perf(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.PathValue("name"))
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	p, err := s.store.Performance(sess.ID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	cost, err := s.store.SumCosts(sess.ID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades":      p.Trades,
		"wins":        p.Wins,
		"losses":      p.Losses,
		"win_rate":    p.WinRate,
		"total_pl":    p.TotalPL,
		"avg_pl":      p.AvgPL,
		"oracle_cost": cost,
	})
}

func (s *Server) riskEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.PathValue("name"))
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	events, err := s.store.ListRiskEvents(sess.ID, 200)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "stopped", s.reg.Stop)
}

func (s *Server) halt(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "halted", s.reg.Halt)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "resumed", s.reg.Resume)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, verb string, fn func(string) error) {
	name := r.PathValue("name")
	if err := fn(name); err != nil {
		code := http.StatusConflict
		if strings.Contains(err.Error(), "no running session") {
			code = http.StatusNotFound
		}
		writeErr(w, code, err)
		return
	}
	log.Printf("ops: session %s %s by operator", name, verb)
	writeJSON(w, http.StatusOK, map[string]string{"session": name, "result": verb})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

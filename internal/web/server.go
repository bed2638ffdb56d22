// Package web provides the HTTP API and status page for the heater-control
// daemon.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sweeney/heater-control/internal/heater"
	"github.com/sweeney/heater-control/internal/metrics"
	"github.com/sweeney/heater-control/internal/plc"
	"github.com/sweeney/heater-control/internal/status"
)

// Server serves the heater API, the PLC maintenance API and the status page.
type Server struct {
	httpServer *http.Server
	ctrl       heater.Controller
	bus        *plc.Bus
	metrics    *metrics.Metrics
}

// New creates a Server. m may be nil, in which case /metrics is not served
// and requests are not instrumented.
func New(addr string, ctrl heater.Controller, bus *plc.Bus, m *metrics.Metrics) *Server {
	s := &Server{ctrl: ctrl, bus: bus, metrics: m}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)

	// Full paths, no PathPrefix subrouters: a wrong method must stay a 405.
	r.HandleFunc("/heater/enable", s.handleEnable).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/heater/disable", s.handleDisable).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/heater/target", s.handleTarget).Methods(http.MethodPost)
	r.HandleFunc("/heater/status", s.handleHeaterStatus).Methods(http.MethodGet)

	r.HandleFunc("/health_check/server", s.handleServerHealth).Methods(http.MethodGet)
	r.HandleFunc("/health_check/plc", s.handlePLCHealth).Methods(http.MethodGet)

	r.HandleFunc("/plc", s.handlePLCMode).Methods(http.MethodGet)
	r.HandleFunc("/plc/stop", s.handlePLCStop).Methods(http.MethodGet)
	r.HandleFunc("/plc/hot_start", s.handlePLCStart(false)).Methods(http.MethodGet)
	r.HandleFunc("/plc/cold_start", s.handlePLCStart(true)).Methods(http.MethodGet)
	r.HandleFunc("/plc/configure_connection", s.handleConfigureConnection).Methods(http.MethodPost)
	r.HandleFunc("/plc/db_bit", s.handleDBBit).Methods(http.MethodGet)
	r.HandleFunc("/plc/db_byte", s.handleDBByte).Methods(http.MethodGet)
	r.HandleFunc("/plc/digital_input", s.handleDigitalInput).Methods(http.MethodGet)
	r.HandleFunc("/plc/analog_input", s.handleAnalogInput).Methods(http.MethodGet)
	r.HandleFunc("/plc/digital_output", s.handleDigitalOutput).Methods(http.MethodPost)

	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
		r.Use(s.instrument)
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handlers.LoggingHandler(log.Writer(), cors(r)),
	}
	return s
}

// Handler returns the root handler, including CORS and access logging.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.Instrument(route, next).ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.ctrl.CurrentStatus())
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.ctrl.CurrentStatus()))
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Enable()
	writeJSON(w, http.StatusOK, messageResponse{Message: "Heater enabled"})
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Disable()
	writeJSON(w, http.StatusOK, messageResponse{Message: "Heater disabled"})
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "invalid body: " + err.Error()})
		return
	}
	if req.Target == nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: `missing "target_temperature"`})
		return
	}
	s.ctrl.SetTargetTemperature(*req.Target)
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatHeaterJSON(s.ctrl.CurrentStatus()))
}

func (s *Server) handleHeaterStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatHeaterJSON(s.ctrl.CurrentStatus()))
}

func (s *Server) handleServerHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: "Server is healthy"})
}

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-sharing/internal/dispatch"
	"github.com/example/ride-sharing/internal/itinerary"
	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/service"
	"github.com/example/ride-sharing/internal/settlement"
)

// ActorHeader carries the authenticated user ID set by the gateway.
const ActorHeader = "X-Actor-ID"

const maxBodyBytes = 1 << 20

type Server struct {
	Routes *service.RouteService
	WSReg  *dispatch.WSRegistry
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(routes *service.RouteService, ws *dispatch.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{Routes: routes, WSReg: ws, logger: logging.OrDiscard(logger), mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/routes/draft", s.handleDraft).Methods(http.MethodPost)
	api.HandleFunc("/routes/search", s.handleSearch).Methods(http.MethodPost)
	api.HandleFunc("/routes", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/routes/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}", s.handleUpdate).Methods(http.MethodPut)
	api.HandleFunc("/routes/{id}", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/routes/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/routes/{id}/seats", s.handleSeats).Methods(http.MethodGet)
	api.HandleFunc("/passengers/{id}/routes", s.handlePassengerRoutes).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{id}/routes", s.handleDriverRoutes).Methods(http.MethodGet)

	s.mux.HandleFunc("/internal/settlement/run", s.handleSettlementRun).Methods(http.MethodPost)
	s.mux.HandleFunc("/ws/alerts/{passenger_id}", s.handleAlertsWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// actor returns the caller's ID or writes 401.
func actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(ActorHeader)
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + ActorHeader})
		return "", false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	driverID, ok := actor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Routes.CreateDraftRoute(driverID))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	driverID, ok := actor(w, r)
	if !ok {
		return
	}
	var form itinerary.RouteForm
	if !decode(w, r, &form) {
		return
	}
	form.ID = ""
	route, err := s.Routes.SaveRoute(r.Context(), driverID, form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, route)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	driverID, ok := actor(w, r)
	if !ok {
		return
	}
	var form itinerary.RouteForm
	if !decode(w, r, &form) {
		return
	}
	form.ID = mux.Vars(r)["id"]
	route, err := s.Routes.SaveRoute(r.Context(), driverID, form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	route, err := s.Routes.FindRoute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	driverID, ok := actor(w, r)
	if !ok {
		return
	}
	if err := s.Routes.DeleteRoute(r.Context(), driverID, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	driverID, ok := actor(w, r)
	if !ok {
		return
	}
	route, err := s.Routes.CancelRoute(r.Context(), driverID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleSeats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	seats, err := s.Routes.CurrentAvailableSeats(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"route_id": id, "available_seats": seats})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	f := models.NewFinder()
	if !decode(w, r, &f) {
		return
	}
	found, err := s.Routes.SearchRoutes(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handlePassengerRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := s.Routes.ActiveRoutesByPassenger(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, routes)
}

func (s *Server) handleDriverRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := s.Routes.ActiveRoutesByDriver(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, routes)
}

func (s *Server) handleSettlementRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.Routes.RunSettlementCycle(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleAlertsWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["passenger_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		return
	}
	s.WSReg.Add(id, conn)
	defer s.WSReg.Remove(id, conn)
	defer conn.Close()
	// Alerts only flow server to client; reading detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type errorBody struct {
	Error  string              `json:"error"`
	Fields []models.FieldError `json:"fields,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, models.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, models.ErrConflict), errors.Is(err, settlement.ErrCycleInProgress):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

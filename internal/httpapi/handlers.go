package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/store"
	"github.com/xtxerr/telegate/internal/types"
)

// maxReadingsLimit caps ?limit= on the readings route.
const maxReadingsLimit = 10000

type healthResponse struct {
	Status    string          `json:"status"`
	Store     string          `json:"store"`
	Scheduler string          `json:"scheduler,omitempty"`
	Pending   int             `json:"pending"`
	Sources   map[string]bool `json:"sources,omitempty"`
}

type weatherResponse struct {
	Observation *types.WeatherObservation `json:"observation"`
	Forecasts   []types.RainForecast      `json:"forecasts"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Store: "ok"}
	status := http.StatusOK

	if err := s.cfg.Store.Health(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Store = err.Error()
		status = http.StatusServiceUnavailable
	}
	if s.cfg.Scheduler != nil {
		resp.Scheduler = s.cfg.Scheduler.State().String()
		resp.Pending = s.cfg.Scheduler.Pending()
	}
	if len(s.cfg.Sources) > 0 {
		resp.Sources = make(map[string]bool, len(s.cfg.Sources))
		for name, src := range s.cfg.Sources {
			resp.Sources[name] = src.Ready()
		}
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.cfg.Store.ListDevices(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if devices == nil {
		devices = []types.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.cfg.Store.GetDevice(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	q := store.ReadingQuery{DeviceID: mux.Vars(r)["id"]}

	var err error
	if q.Since, err = int64Param(r, "since"); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if q.Until, err = int64Param(r, "until"); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	limit, err := int64Param(r, "limit")
	if err != nil || limit < 0 || limit > maxReadingsLimit {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "limit must be between 0 and " + strconv.Itoa(maxReadingsLimit),
		})
		return
	}
	q.Limit = int(limit)

	readings, err := s.cfg.Store.Readings(r.Context(), q)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if readings == nil {
		readings = []types.StoredReading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	obs, err := s.cfg.Store.LatestObservation(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	fc, err := s.cfg.Store.LatestForecasts(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if fc == nil {
		fc = []types.RainForecast{}
	}
	writeJSON(w, http.StatusOK, weatherResponse{Observation: obs, Forecasts: fc})
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errors.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	log.Error("store query failed", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "store query failed"})
}

func int64Param(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.NewValidation(name, "must be an integer")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response", "error", err)
	}
}

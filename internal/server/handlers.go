package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dgnsrekt/exchange-calendar-service/internal/calendar"
)

type Server struct {
	service  *calendar.Service
	updater  *Updater
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewServer builds the HTTP handlers over service. updater and gatherer are
// optional; without them the update and metrics routes are not mounted.
func NewServer(service *calendar.Service, updater *Updater, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	return &Server{
		service:  service,
		updater:  updater,
		gatherer: gatherer,
		logger:   logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
	Venues int    `json:"venues"`
	Today  string `json:"today"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Venues: len(s.service.Venues()),
		Today:  s.service.Today().String(),
	})
}

func (s *Server) mics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Venues())
}

func (s *Server) mic2name(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.VenueNames())
}

func (s *Server) timezone(w http.ResponseWriter, r *http.Request) {
	p := newParams(r.URL.Query())
	venue := p.str("mic")
	standardise := p.boolean("standardise", true)
	if p.err != nil {
		s.writeError(w, p.err)
		return
	}

	zones, err := s.service.Timezones(venue, standardise)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, zones)
}

func (s *Server) specialDays(w http.ResponseWriter, r *http.Request) {
	p := newParams(r.URL.Query())
	venue := p.required("mic")
	year := p.integer("year", 0)
	tz := p.str("tz")
	if p.err != nil {
		s.writeError(w, p.err)
		return
	}

	days, err := s.service.DayClassifications(venue, year, tz)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, days)
}

func (s *Server) specialDaysICS(w http.ResponseWriter, r *http.Request) {
	p := newParams(r.URL.Query())
	venue := p.required("mic")
	year := p.integer("year", 0)
	tz := p.str("tz")
	if p.err != nil {
		s.writeError(w, p.err)
		return
	}

	feed, err := s.service.ICS(venue, year, tz)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(feed))
}

func (s *Server) classifyDay(w http.ResponseWriter, r *http.Request) {
	p := newParams(r.URL.Query())
	day := p.date("day", s.service.Today())
	venue := p.str("mic")
	tz := p.str("tz")
	if p.err != nil {
		s.writeError(w, p.err)
		return
	}

	if venue != "" {
		c, err := s.service.ClassifyDay(venue, day, tz)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
		return
	}

	groups, err := s.service.ClassifyDayAll(day, tz)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) nextSpecialDays(w http.ResponseWriter, r *http.Request) {
	s.search(w, r, s.service.SearchSpecialDays)
}

func (s *Server) nextBusinessDays(w http.ResponseWriter, r *http.Request) {
	s.search(w, r, s.service.SearchBusinessDays)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, run func(calendar.SearchQuery) (calendar.SearchResult, error)) {
	p := newParams(r.URL.Query())
	q := p.searchQuery(s.service.Today())
	if p.err != nil {
		s.writeError(w, p.err)
		return
	}

	res, err := run(q)
	if err != nil {
		s.writeError(w, err)
		return
	}

	days := res.Days
	if days == nil {
		days = []calendar.DateGroup{}
	}
	status := http.StatusOK
	if res.Status == calendar.StatusRangeExceeded {
		status = http.StatusRequestedRangeNotSatisfiable
	}
	writeJSON(w, status, days)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, calendar.ErrUnknownVenue):
		return http.StatusNotFound
	case errors.Is(err, calendar.ErrInvalidQuery), errors.Is(err, errBadParam):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

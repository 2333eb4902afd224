package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/exchange-calendar-service/internal/calendar"
	"github.com/dgnsrekt/exchange-calendar-service/internal/metrics"
	"github.com/dgnsrekt/exchange-calendar-service/internal/provider"
)

const maxUpdateBody = 4 << 20

var (
	ErrUpdateInProgress = errors.New("update already in progress")
	ErrInvalidUpdate    = errors.New("invalid update")
)

// ChangeStore holds the change sets applied on top of the provider facts.
type ChangeStore interface {
	Changes() provider.ChangeSets
	SetChanges(provider.ChangeSets) error
}

// Updater applies administrative change-set updates. It replaces the full
// set of changes, then refreshes every venue whose changes differ.
type Updater struct {
	store   ChangeStore
	service *calendar.Service
	apiKey  string
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *zap.Logger

	updateMu sync.Mutex // prevents concurrent updates
}

// NewUpdater creates an Updater guarded by apiKey. A non-positive rate
// disables limiting.
func NewUpdater(
	store ChangeStore,
	service *calendar.Service,
	apiKey string,
	requestsPerSecond float64,
	burst int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Updater {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Updater{
		store:   store,
		service: service,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(limit, burst),
		metrics: m,
		logger:  logger,
	}
}

// Allow reports whether another update request may proceed now.
func (u *Updater) Allow() bool {
	if u.limiter.Allow() {
		return true
	}
	u.metrics.RecordAdminUpdate("limited")
	return false
}

// Authorized reports whether key matches the configured admin key.
func (u *Updater) Authorized(key string) bool {
	if subtle.ConstantTimeCompare([]byte(key), []byte(u.apiKey)) == 1 {
		return true
	}
	u.metrics.RecordAdminUpdate("unauthorized")
	return false
}

// UpdateResult describes an applied update.
type UpdateResult struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Added   []string `json:"added,omitempty"`
	Updated []string `json:"updated,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

const (
	UpdateApplied   = "applied"
	UpdateNoChanges = "no changes"
)

// Update replaces the applied change sets with incoming. An update equal to
// the current state changes nothing and refreshes nothing. When refreshing
// fails the changes stay applied and the result is returned alongside the
// error.
func (u *Updater) Update(incoming provider.ChangeSets) (*UpdateResult, error) {
	if !u.updateMu.TryLock() {
		return nil, ErrUpdateInProgress
	}
	defer u.updateMu.Unlock()

	id := uuid.NewString()
	logger := u.logger.With(zap.String("updateID", id))
	logger.Info("received change sets", zap.Int("venues", len(incoming)))

	next, err := u.normalize(incoming)
	if err != nil {
		u.metrics.RecordAdminUpdate("invalid")
		return nil, err
	}

	current := u.store.Changes()
	if next.Equal(current) {
		logger.Info("no changes")
		u.metrics.RecordAdminUpdate("noop")
		return &UpdateResult{ID: id, Status: UpdateNoChanges}, nil
	}

	res := &UpdateResult{ID: id, Status: UpdateApplied}
	for _, venue := range sortedVenues(next) {
		prev, ok := current[venue]
		switch {
		case !ok:
			res.Added = append(res.Added, venue)
			logger.Info("adding changes", zap.String("venue", venue))
			logDiff(logger, venue, provider.ChangeSet{}, next[venue])
		case prev.Equal(next[venue]):
			logger.Info("changes remain the same", zap.String("venue", venue))
		default:
			res.Updated = append(res.Updated, venue)
			logger.Info("updating changes", zap.String("venue", venue))
			logDiff(logger, venue, prev, next[venue])
		}
	}
	for _, venue := range sortedVenues(current) {
		if _, ok := next[venue]; !ok {
			res.Removed = append(res.Removed, venue)
			logger.Info("removing changes", zap.String("venue", venue))
			logDiff(logger, venue, current[venue], provider.ChangeSet{})
		}
	}

	if err := u.store.SetChanges(next); err != nil {
		u.metrics.RecordAdminUpdate("invalid")
		return nil, fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
	}

	var errs []error
	for _, venue := range res.affected() {
		if err := u.service.Refresh(venue); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error("refreshing venues after update", zap.Error(err))
		u.metrics.RecordAdminUpdate("failed")
		return res, err
	}

	logger.Info("change sets applied",
		zap.Strings("added", res.Added),
		zap.Strings("updated", res.Updated),
		zap.Strings("removed", res.Removed),
	)
	u.metrics.RecordAdminUpdate("applied")
	return res, nil
}

// normalize drops empty change sets and rejects unknown venues and
// inconsistent sets.
func (u *Updater) normalize(incoming provider.ChangeSets) (provider.ChangeSets, error) {
	known := u.service.Venues()
	next := make(provider.ChangeSets, len(incoming))
	for _, venue := range sortedVenues(incoming) {
		cs := incoming[venue]
		if _, found := slices.BinarySearch(known, venue); !found {
			return nil, fmt.Errorf("%w: unknown venue %s", ErrInvalidUpdate, venue)
		}
		if err := cs.Validate(); err != nil {
			return nil, fmt.Errorf("%w: venue %s: %w", ErrInvalidUpdate, venue, err)
		}
		if !cs.IsEmpty() {
			next[venue] = cs
		}
	}
	return next, nil
}

func (r *UpdateResult) affected() []string {
	out := slices.Concat(r.Added, r.Updated, r.Removed)
	slices.Sort(out)
	return out
}

func sortedVenues(c provider.ChangeSets) []string {
	return slices.Sorted(maps.Keys(c))
}

func renderChangeSet(cs provider.ChangeSet) string {
	if cs.IsEmpty() {
		return ""
	}
	b, err := json.MarshalIndent(cs, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v\n", cs)
	}
	return string(b) + "\n"
}

// logDiff logs the unified diff between two change sets line by line.
func logDiff(logger *zap.Logger, venue string, from, to provider.ChangeSet) {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(renderChangeSet(from)),
		B:        difflib.SplitLines(renderChangeSet(to)),
		FromFile: venue + " (current)",
		ToFile:   venue + " (incoming)",
		Context:  3,
	})
	if err != nil {
		logger.Warn("diffing change sets", zap.String("venue", venue), zap.Error(err))
		return
	}
	for _, line := range difflib.SplitLines(diff) {
		if line == "" || line == "\n" {
			continue
		}
		logger.Info("change set diff", zap.String("venue", venue), zap.String("line", trimNewline(line)))
	}
}

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		return s[:n-1]
	}
	return s
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	if !s.updater.Allow() {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many update requests"})
		return
	}
	if !s.updater.Authorized(r.Header.Get(APIKeyHeader)) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid API key"})
		return
	}

	var incoming provider.ChangeSets
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&incoming); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "decoding change sets: " + err.Error()})
		return
	}

	res, err := s.updater.Update(incoming)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, ErrInvalidUpdate):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, ErrUpdateInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("update failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

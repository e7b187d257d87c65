package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fsvault/internal/application"
	"fsvault/internal/domain"
	"fsvault/internal/streaming"
)

// EventStore is the archive of consumed ledger events.
type EventStore interface {
	QueryEvents(ctx context.Context, filter application.EventQueryFilter) ([]domain.Event, error)
	Ping(ctx context.Context) error
}

// ArchiveServer exposes the event archive kept by the stream consumer.
type ArchiveServer struct {
	events    EventStore
	metrics   *Metrics
	buildInfo BuildInfo
}

func NewArchiveServer(events EventStore, metrics *Metrics, buildInfo BuildInfo) (*ArchiveServer, error) {
	if events == nil {
		return nil, errors.New("archive server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &ArchiveServer{events: events, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *ArchiveServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/version", s.handleVersion)
	return mux
}

func (s *ArchiveServer) ListenAndServe(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.Handler())
}

func (s *ArchiveServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *ArchiveServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.events.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "archive not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *ArchiveServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := application.EventQueryFilter{Limit: application.NormalizeLimit(limit)}
	if query.Get("account") != "" {
		account, err := parseAddressParam(r, "account")
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Account = &account
	}
	if raw := query.Get("asset"); raw != "" {
		asset, err := domain.ParseAsset(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Asset = &asset
	}
	if raw := query.Get("type"); raw != "" {
		switch eventType := domain.EventType(raw); eventType {
		case domain.EventDeposit, domain.EventWithdraw, domain.EventTransfer, domain.EventApproval, domain.EventNativeTransfer:
			filter.Type = eventType
		default:
			respondError(w, http.StatusBadRequest, "invalid type")
			return
		}
	}

	events, err := s.events.QueryEvents(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	response := make([]streaming.Message, 0, len(events))
	for _, event := range events {
		response = append(response, streaming.FromEvent(event))
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *ArchiveServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.metrics.Snapshot().WritePrometheus(w)
}

func (s *ArchiveServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

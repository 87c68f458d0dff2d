// Package httpapi exposes the Query Interface (spec §4.F) over the RPC wire
// convention (spec §6: "/rpc/{collection.namespace.method}") and upgrades
// the collaboration overlay's relay connection to a websocket, mirroring
// relayfile's httpapi package: manual path-based routing, a shared
// writeJSON/writeError envelope, a correlation ID threaded through every
// response, and a fixed-window per-client rate limiter ahead of the
// expensive routes.
package httpapi

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rsform/weaver/internal/collab"
	"github.com/rsform/weaver/internal/config"
	"github.com/rsform/weaver/internal/query"
	"github.com/rsform/weaver/internal/store/analytical"
	"github.com/rsform/weaver/internal/weaverapi"
)

// ServerConfig carries the pieces of config.Config this package needs,
// mirroring relayfile's own ServerConfig shape (JWT/rate-limit/body-size
// slice of the wider runtime configuration) rather than importing Config
// wholesale into every handler signature.
type ServerConfig struct {
	JWTSecret       string
	AdminJWTSecret  string
	GossipSecret    []byte
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

func ServerConfigFromConfig(c config.Config) ServerConfig {
	return ServerConfig{
		JWTSecret:       c.AdminJWTSecret,
		AdminJWTSecret:  c.AdminJWTSecret,
		GossipSecret:    []byte(c.GossipSecret),
		RateLimitMax:    600,
		RateLimitWindow: time.Minute,
		MaxBodyBytes:    1 << 20,
	}
}

// Server implements http.Handler for the RPC surface and the collab
// websocket upgrade. It holds no storage of its own — everything is
// delegated to query.Service (reads) and collab.Hub (live editing).
type Server struct {
	svc      *query.Service
	hub      *collab.Hub
	store    *analytical.Store
	cfg      ServerConfig
	log      *zap.Logger
	upgrader websocket.Upgrader

	rateLimiter *rateLimiter
}

func NewServer(svc *query.Service, hub *collab.Hub, store *analytical.Store, cfg ServerConfig, log *zap.Logger) *Server {
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{window: cfg.RateLimitWindow, max: cfg.RateLimitMax, entries: map[string]rateEntry{}}
	}
	return &Server{
		svc:   svc,
		hub:   hub,
		store: store,
		cfg:   cfg,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rateLimiter: limiter,
	}
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{count: 1, resetAt: now.Add(r.window)}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/admin/status" && r.Method == http.MethodGet {
		s.handleAdminStatus(w, r)
		return
	}
	if r.URL.Path == "/admin/dashboard" && r.Method == http.MethodGet {
		s.handleDashboard(w, r)
		return
	}
	if r.URL.Path == "/ws/collab" && r.Method == http.MethodGet {
		s.handleCollabUpgrade(w, r)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/rpc/") {
		s.handleRPC(w, r)
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
}

// handleRPC dispatches "/rpc/{method}" per spec §6. The Query Interface is
// entirely read-only (spec §4.F); the one write this core performs —
// publishing a converged collaboration snapshot — happens from inside the
// collab hub's periodic save, not over RPC, so every method below is a GET.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimPrefix(r.URL.Path, "/rpc/")
	correlationID := getCorrelationID(r)

	if s.rateLimiter != nil {
		key := clientKey(r)
		if !s.rateLimiter.allow(key, time.Now()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	ctx := r.Context()
	q := r.URL.Query()

	switch method {
	case "weaver.query.getEntry":
		view, err := s.svc.GetEntry(ctx, q.Get("uri"))
		s.respond(w, correlationID, view, err)
	case "weaver.query.getNotebook":
		view, err := s.svc.GetNotebook(ctx, q.Get("uri"))
		s.respond(w, correlationID, view, err)
	case "weaver.query.resolveEntry":
		view, err := s.svc.ResolveEntry(ctx, q.Get("author"), q.Get("notebook"), q.Get("entry"))
		s.respond(w, correlationID, view, err)
	case "weaver.query.resolveNotebook":
		view, err := s.svc.ResolveNotebook(ctx, q.Get("author"), q.Get("name"))
		s.respond(w, correlationID, view, err)
	case "weaver.query.listActorNotebooks":
		page, err := s.svc.ListActorNotebooks(ctx, q.Get("actor"), parseLimit(q.Get("limit")), q.Get("cursor"))
		s.respond(w, correlationID, page, err)
	case "weaver.query.listActorEntries":
		page, err := s.svc.ListActorEntries(ctx, q.Get("actor"), parseLimit(q.Get("limit")), q.Get("cursor"))
		s.respond(w, correlationID, page, err)
	case "weaver.query.getProfile":
		profile, err := s.svc.GetProfile(ctx, q.Get("actor"))
		s.respond(w, correlationID, profile, err)
	case "weaver.query.getEntryFeed":
		page, err := s.svc.GetEntryFeed(ctx, parseLimit(q.Get("limit")), q.Get("cursor"))
		s.respond(w, correlationID, page, err)
	case "weaver.query.getNotebookFeed":
		page, err := s.svc.GetNotebookFeed(ctx, parseLimit(q.Get("limit")), q.Get("cursor"))
		s.respond(w, correlationID, page, err)
	case "weaver.query.getEditHistory":
		history, err := s.svc.GetEditHistory(ctx, q.Get("uri"))
		s.respond(w, correlationID, history, err)
	case "weaver.query.getResourceParticipants":
		viewer := weaverapi.DID(s.viewerDID(r))
		participants, err := s.svc.GetResourceParticipants(ctx, q.Get("uri"), viewer)
		s.respond(w, correlationID, participants, err)
	case "weaver.query.getCollaborationState":
		state, err := s.svc.GetCollaborationState(ctx, q.Get("uri"), s.cfg.GossipSecret)
		s.respond(w, correlationID, state, err)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown rpc method: "+method, correlationID)
	}
}

// respond normalizes a (value, error) pair from query.Service into the RPC
// response envelope, classifying errors via weaverapi.ClassifyError the way
// spec §7 requires ("query handlers map internal errors to public kinds").
func (s *Server) respond(w http.ResponseWriter, correlationID string, result any, err error) {
	if err != nil {
		s.writeServiceError(w, correlationID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeServiceError(w http.ResponseWriter, correlationID string, err error) {
	kind := weaverapi.ClassifyError(err)
	status := http.StatusInternalServerError
	code := "internal_error"
	message := "internal error"
	switch kind {
	case weaverapi.KindNotFound:
		status, code, message = http.StatusNotFound, "not_found", err.Error()
	case weaverapi.KindInvalidRequest:
		status, code, message = http.StatusBadRequest, "bad_request", err.Error()
	case weaverapi.KindUnauthorized:
		status, code, message = http.StatusUnauthorized, "unauthorized", err.Error()
	default:
		if s.log != nil {
			s.log.Warn("httpapi: internal error", zap.Error(err), zap.String("correlation_id", correlationID))
		}
	}
	writeError(w, status, code, message, correlationID)
}

// handleCollabUpgrade upgrades to a websocket and joins the caller onto the
// gossip topic for ?resource=<uri>, sealing every outbound frame and
// opening every inbound one under the topic's derived key (spec §4.D
// lifecycle steps 3-4; see collab.SealedConn).
func (s *Server) handleCollabUpgrade(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	resourceURI := r.URL.Query().Get("resource")
	if resourceURI == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing resource query parameter", correlationID)
		return
	}
	did, collection, rkey, err := weaverapi.ParseRecordAddress(resourceURI)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return
	}
	resource := weaverapi.ResourceRef{DID: did, Collection: collection, RKey: rkey}

	nodeID := r.URL.Query().Get("node_id")
	if nodeID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing node_id query parameter", correlationID)
		return
	}
	displayName := r.URL.Query().Get("display_name")
	joinDID := s.viewerDID(r)
	if joinDID == "" {
		joinDID = string(did)
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warn("httpapi: websocket upgrade failed", zap.Error(err))
		}
		return
	}

	topic := collab.DeriveTopic(resource.String(), s.cfg.GossipSecret)
	raw := collab.NewWSConn(nodeID, ws)
	conn := collab.NewSealedConn(raw, topic, s.cfg.GossipSecret)

	s.hub.Join(topic, resource, conn, joinDID, displayName)
	defer s.hub.Leave(topic, nodeID)

	for {
		sealed, err := raw.Read()
		if err != nil {
			return
		}
		frame, err := conn.Open(sealed)
		if err != nil {
			// Topic mismatch or tampered frame (spec §4.D "topic mismatch"
			// failure mode): drop the frame, don't tear down the connection.
			if s.log != nil {
				s.log.Debug("httpapi: dropped unopenable collab frame", zap.String("node_id", nodeID), zap.Error(err))
			}
			continue
		}
		msg, err := collab.Decode(frame)
		if err != nil {
			if s.log != nil {
				s.log.Debug("httpapi: dropped malformed collab frame", zap.String("node_id", nodeID), zap.Error(err))
			}
			continue
		}
		s.hub.Frame(topic, nodeID, msg)
	}
}

// handleAdminStatus reports ingestion lag behind an admin scope, the
// informational counterpart to relayfile's /v1/admin/ingress and
// /v1/admin/sync status endpoints.
func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if _, authErr := s.requireAdminScope(r.Header.Get("Authorization"), "admin:read"); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	consumerID := r.URL.Query().Get("consumer_id")
	if consumerID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing consumer_id query parameter", correlationID)
		return
	}
	if s.store == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "analytical store not configured", correlationID)
		return
	}
	cursor, err := s.store.LoadCursor(r.Context(), consumerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"consumerId":  consumerID,
		"cursor":      cursor,
		"generatedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func parseLimit(raw string) int {
	if strings.TrimSpace(raw) == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// getCorrelationID threads the caller's correlation id through the
// response, minting one when the caller didn't supply it so every error
// response is still traceable back to a single log line.
func getCorrelationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"error":         code,
		"message":       message,
		"correlationId": correlationID,
	})
}

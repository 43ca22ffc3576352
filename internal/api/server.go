// Package api is the thin HTTP surface spec.md §6 carves out of the
// core: a health probe over the model registry and store/broker
// dependencies, and a synchronous identity-verification endpoint that
// wraps the face-encoding collaborator and the object store. Grounded
// on the teacher's gorilla/mux router/CORS-middleware/JSON-handler shape
// (this package's own pre-transform server.go).
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ocx/proctoring-ai/internal/circuitbreaker"
	"github.com/ocx/proctoring-ai/internal/identity"
	"github.com/ocx/proctoring-ai/internal/models"
	"github.com/ocx/proctoring-ai/internal/store"
)

// Server exposes /health and /ai/verify-identity (spec.md §6).
type Server struct {
	registry  *models.Registry
	store     store.ObjectStore
	rdb       *redis.Client
	bucket    string
	threshold float64
	rateLimit int
	breakers  *circuitbreaker.Manager

	brokerUp   func() bool
	databaseUp func() bool
}

// NewServer builds the HTTP surface. brokerUp/databaseUp are cheap
// liveness probes the caller supplies (e.g. "is the connection open");
// verify-identity rate limiting uses rdb's per-minute counter. breakers is
// the shared circuit-breaker manager guarding the relational- and
// object-store collaborators, surfaced on /health.
func NewServer(registry *models.Registry, objectStore store.ObjectStore, rdb *redis.Client, bucket string, matchThreshold float64, rateLimitPerMin int, breakers *circuitbreaker.Manager, brokerUp, databaseUp func() bool) *Server {
	return &Server{
		registry:   registry,
		store:      objectStore,
		rdb:        rdb,
		bucket:     bucket,
		threshold:  matchThreshold,
		rateLimit:  rateLimitPerMin,
		breakers:   breakers,
		brokerUp:   brokerUp,
		databaseUp: databaseUp,
	}
}

// Router builds the mux.Router; main.go decides how to serve it so it
// keeps ownership of the process's shutdown sequencing.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if req.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ai/verify-identity", s.handleVerifyIdentity).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	modelStatus := s.registry.Status()

	deps := map[string]bool{
		"broker":   s.brokerUp == nil || s.brokerUp(),
		"database": s.databaseUp == nil || s.databaseUp(),
	}
	healthy := deps["broker"] && deps["database"]

	var circuitSummary string
	var circuitDetail map[string]string
	if s.breakers != nil {
		circuitSummary, circuitDetail = s.breakers.HealthStatus()
		if circuitSummary != "HEALTHY" {
			healthy = false
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status":          statusString(healthy),
		"models":          modelStatus,
		"dependencies":    deps,
		"circuitBreakers": circuitDetail,
	})
}

func statusString(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}

type verifyIdentityRequest struct {
	StudentID string `json:"studentId"`
	Selfie    string `json:"selfie"` // base64 JPEG
}

type verifyIdentityResponse struct {
	Matched  bool    `json:"matched"`
	Distance float64 `json:"distance"`
}

func (s *Server) handleVerifyIdentity(w http.ResponseWriter, r *http.Request) {
	if !s.allowRequest(r.Context(), r.RemoteAddr) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if !s.registry.FaceEncoderOK {
		http.Error(w, "face encoder unavailable", http.StatusServiceUnavailable)
		return
	}

	var req verifyIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	selfie, err := base64.StdEncoding.DecodeString(req.Selfie)
	if err != nil {
		http.Error(w, "invalid selfie encoding", http.StatusBadRequest)
		return
	}

	reference, err := s.loadReferencePhoto(r.Context(), req.StudentID)
	if err != nil {
		http.Error(w, "reference photo not found", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	liveEmbedding, err := s.registry.FaceEncoder.Encode(ctx, selfie)
	if err != nil {
		http.Error(w, "face encoding failed", http.StatusBadGateway)
		return
	}
	refEmbedding, err := s.registry.FaceEncoder.Encode(ctx, reference)
	if err != nil {
		http.Error(w, "face encoding failed", http.StatusBadGateway)
		return
	}

	distance, matched := identity.Compare(refEmbedding, liveEmbedding, s.threshold)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(verifyIdentityResponse{Matched: matched, Distance: distance})
}

func (s *Server) loadReferencePhoto(ctx context.Context, studentID string) ([]byte, error) {
	if data, err := s.store.Download(ctx, s.bucket, studentID+".jpg"); err == nil {
		return data, nil
	}
	return s.store.Download(ctx, s.bucket, studentID+".png")
}

// allowRequest enforces a fixed per-minute budget per client address using
// a Redis counter keyed to the current minute bucket (INCR + EXPIRE) —
// an approximate fixed-window limiter, simpler than a sliding-window Lua
// script and sufficient for this low-traffic endpoint.
func (s *Server) allowRequest(ctx context.Context, clientAddr string) bool {
	if s.rdb == nil || s.rateLimit <= 0 {
		return true
	}

	bucket := time.Now().UTC().Format("200601021504")
	key := fmt.Sprintf("verify-identity:%s:%s", clientAddr, bucket)

	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[api] rate limiter unavailable, allowing request: %v", err)
		return true
	}
	if count == 1 {
		s.rdb.Expire(ctx, key, 90*time.Second)
	}

	return count <= int64(s.rateLimit)
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/max-clinch/ChainSphere/internal/lottery"
	"github.com/max-clinch/ChainSphere/internal/models"
	"github.com/max-clinch/ChainSphere/internal/service"
	"github.com/max-clinch/ChainSphere/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainsphere_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainsphere_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	svc           *service.LedgerService
	engine        *lottery.Engine
	providerToken string
}

func NewHandler(svc *service.LedgerService, engine *lottery.Engine, providerToken string) *Handler {
	return &Handler{svc: svc, engine: engine, providerToken: providerToken}
}

// Register attaches all API routes under /api/v1.
func (h *Handler) Register(r *mux.Router) {
	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/users", h.CreateUser).Methods("POST")
	v1.HandleFunc("/users/{id}", h.GetUser).Methods("GET")

	v1.HandleFunc("/posts", h.CreatePost).Methods("POST")
	v1.HandleFunc("/posts", h.ListPosts).Methods("GET")
	v1.HandleFunc("/posts/{id}", h.GetPost).Methods("GET")
	v1.HandleFunc("/posts/{id}", h.EditPost).Methods("PUT")
	v1.HandleFunc("/posts/{id}/vote", h.Vote).Methods("POST")
	v1.HandleFunc("/posts/{id}/comments", h.CreateComment).Methods("POST")
	v1.HandleFunc("/posts/{id}/comments", h.ListComments).Methods("GET")

	v1.HandleFunc("/lottery/upkeep", h.CheckUpkeep).Methods("GET")
	v1.HandleFunc("/lottery/upkeep", h.PerformUpkeep).Methods("POST")
	v1.HandleFunc("/lottery/fulfill", h.Fulfill).Methods("POST")
	v1.HandleFunc("/lottery/status", h.LotteryStatus).Methods("GET")
	v1.HandleFunc("/lottery/winners", h.Winners).Methods("GET")
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/users")
		return
	}
	user, err := h.svc.Register(r.Context(), req.Username)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyUsername):
			h.respondError(w, http.StatusUnprocessableEntity, "Username required", "POST", "/users")
		case errors.Is(err, store.ErrDuplicateUsername):
			h.respondError(w, http.StatusConflict, "Username already taken", "POST", "/users")
		default:
			h.respondError(w, http.StatusInternalServerError, err.Error(), "POST", "/users")
		}
		return
	}
	h.respondJSON(w, http.StatusCreated, user, "POST", "/users")
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	user, err := h.svc.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			h.respondError(w, http.StatusNotFound, "Not Found", "GET", "/users/{id}")
			return
		}
		h.respondError(w, http.StatusInternalServerError, err.Error(), "GET", "/users/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, user, "GET", "/users/{id}")
}

func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/posts")
		return
	}
	post, err := h.svc.CreatePost(r.Context(), req.AuthorID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyContent):
			h.respondError(w, http.StatusUnprocessableEntity, "Content required", "POST", "/posts")
		case errors.Is(err, store.ErrUserNotFound):
			h.respondError(w, http.StatusNotFound, "Author not found", "POST", "/posts")
		default:
			h.respondError(w, http.StatusInternalServerError, err.Error(), "POST", "/posts")
		}
		return
	}
	h.respondJSON(w, http.StatusCreated, post, "POST", "/posts")
}

func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	posts, err := h.svc.ListPosts(r.Context(), limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error(), "GET", "/posts")
		return
	}
	h.respondJSON(w, http.StatusOK, posts, "GET", "/posts")
}

func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.svc.GetPost(r.Context(), pathID(r))
	if err != nil {
		if errors.Is(err, store.ErrPostNotFound) {
			h.respondError(w, http.StatusNotFound, "Not Found", "GET", "/posts/{id}")
			return
		}
		h.respondError(w, http.StatusInternalServerError, err.Error(), "GET", "/posts/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, post, "GET", "/posts/{id}")
}

// EditPost is the paid mutation: the author pays the edit fee and the post
// becomes eligible for the current lottery round.
func (h *Handler) EditPost(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("PUT", "/posts/{id}"))
	defer timer.ObserveDuration()

	var req models.EditPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "PUT", "/posts/{id}")
		return
	}
	post, err := h.svc.EditPost(r.Context(), pathID(r), req.EditorID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyContent):
			h.respondError(w, http.StatusUnprocessableEntity, "Content required", "PUT", "/posts/{id}")
		case errors.Is(err, store.ErrPostNotFound):
			h.respondError(w, http.StatusNotFound, "Post not found", "PUT", "/posts/{id}")
		case errors.Is(err, store.ErrNotAuthor):
			h.respondError(w, http.StatusForbidden, "Only the author may edit", "PUT", "/posts/{id}")
		case errors.Is(err, store.ErrInsufficientFunds):
			h.respondError(w, http.StatusUnprocessableEntity, "Insufficient funds", "PUT", "/posts/{id}")
		default:
			h.respondError(w, http.StatusInternalServerError, err.Error(), "PUT", "/posts/{id}")
		}
		return
	}
	h.respondJSON(w, http.StatusOK, post, "PUT", "/posts/{id}")
}

func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	var req models.VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/posts/{id}/vote")
		return
	}
	err := h.svc.Vote(r.Context(), pathID(r), req.UserID, req.Value)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidVote):
			h.respondError(w, http.StatusUnprocessableEntity, "Vote value must be up or down", "POST", "/posts/{id}/vote")
		case errors.Is(err, store.ErrDuplicateVote):
			h.respondError(w, http.StatusConflict, "Already voted", "POST", "/posts/{id}/vote")
		case errors.Is(err, store.ErrPostNotFound):
			h.respondError(w, http.StatusNotFound, "Post not found", "POST", "/posts/{id}/vote")
		default:
			h.respondError(w, http.StatusInternalServerError, err.Error(), "POST", "/posts/{id}/vote")
		}
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"status": "recorded"}, "POST", "/posts/{id}/vote")
}

func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/posts/{id}/comments")
		return
	}
	id, err := h.svc.Comment(r.Context(), pathID(r), req.AuthorID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyContent):
			h.respondError(w, http.StatusUnprocessableEntity, "Content required", "POST", "/posts/{id}/comments")
		case errors.Is(err, store.ErrPostNotFound):
			h.respondError(w, http.StatusNotFound, "Post not found", "POST", "/posts/{id}/comments")
		default:
			h.respondError(w, http.StatusInternalServerError, err.Error(), "POST", "/posts/{id}/comments")
		}
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]int64{"id": id}, "POST", "/posts/{id}/comments")
}

func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.svc.Comments(r.Context(), pathID(r))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error(), "GET", "/posts/{id}/comments")
		return
	}
	h.respondJSON(w, http.StatusOK, comments, "GET", "/posts/{id}/comments")
}

// CheckUpkeep is read-only and side-effect-free; automation polls it.
func (h *Handler) CheckUpkeep(w http.ResponseWriter, r *http.Request) {
	needed, pool, eligible := h.engine.CheckUpkeep()
	h.respondJSON(w, http.StatusOK, models.UpkeepResponse{
		Needed:        needed,
		PoolBalance:   pool,
		EligibleCount: eligible,
	}, "GET", "/lottery/upkeep")
}

// PerformUpkeep triggers the draw. A 409 with the diagnostic snapshot tells
// the caller the trigger was wasted rather than silently no-oping.
func (h *Handler) PerformUpkeep(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/lottery/upkeep"))
	defer timer.ObserveDuration()

	pending, err := h.engine.PerformUpkeep(r.Context())
	if err != nil {
		var notNeeded *lottery.UpkeepNotNeededError
		if errors.As(err, &notNeeded) {
			h.respondJSON(w, http.StatusConflict, map[string]interface{}{
				"error":          "upkeep not needed",
				"pool_balance":   notNeeded.PoolBalance,
				"eligible_count": notNeeded.EligibleCount,
			}, "POST", "/lottery/upkeep")
			return
		}
		h.respondError(w, http.StatusBadGateway, err.Error(), "POST", "/lottery/upkeep")
		return
	}

	status := h.engine.Status()
	h.respondJSON(w, http.StatusAccepted, models.PerformUpkeepResponse{
		RequestID: pending.ID,
		Round:     status.Round,
	}, "POST", "/lottery/upkeep")
}

// Fulfill is the randomness provider's callback. Both the bearer token and
// the request-ID match are checked before any state moves.
func (h *Handler) Fulfill(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/lottery/fulfill"))
	defer timer.ObserveDuration()

	if h.providerToken != "" {
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if auth != h.providerToken {
			h.respondError(w, http.StatusUnauthorized, "Unauthorized", "POST", "/lottery/fulfill")
			return
		}
	}

	var req models.FulfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/lottery/fulfill")
		return
	}

	rec, err := h.engine.HandleFulfillment(r.Context(), req.RequestID, req.RandomWords)
	if err != nil {
		switch {
		case errors.Is(err, lottery.ErrUnknownRequest):
			h.respondError(w, http.StatusUnprocessableEntity, "Unknown request", "POST", "/lottery/fulfill")
		case errors.Is(err, lottery.ErrNoRandomWords):
			h.respondError(w, http.StatusUnprocessableEntity, "Missing random words", "POST", "/lottery/fulfill")
		case errors.Is(err, store.ErrInsufficientTreasury):
			h.respondError(w, http.StatusConflict, "Treasury cannot cover payout", "POST", "/lottery/fulfill")
		default:
			h.respondError(w, http.StatusInternalServerError, err.Error(), "POST", "/lottery/fulfill")
		}
		return
	}
	h.respondJSON(w, http.StatusOK, rec, "POST", "/lottery/fulfill")
}

func (h *Handler) LotteryStatus(w http.ResponseWriter, r *http.Request) {
	s := h.engine.Status()
	resp := models.LotteryStatusResponse{
		State:            string(s.State),
		Round:            s.Round,
		PoolBalance:      s.PoolBalance,
		EligibleCount:    s.EligibleCount,
		IdleSince:        s.IdleSince.UTC().Format(time.RFC3339),
		PendingRequestID: s.PendingRequestID,
		PendingAgeSec:    int64(s.PendingAge.Seconds()),
	}
	h.respondJSON(w, http.StatusOK, resp, "GET", "/lottery/status")
}

func (h *Handler) Winners(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.Winners(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error(), "GET", "/lottery/winners")
		return
	}
	h.respondJSON(w, http.StatusOK, records, "GET", "/lottery/winners")
}

// Helpers
func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}

package simulator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quantropy/keygen/interfaces"
	"github.com/quantropy/keygen/qrand"
)

// Handler serves the simulator over HTTP using the qrand wire format. All
// endpoints require the configured bearer token.
type Handler struct {
	svc   *Service
	token string
	log   *slog.Logger
}

// NewHandler creates an HTTP handler for the simulator. Requests must carry
// "Authorization: Bearer <token>".
func NewHandler(svc *Service, token string, log *slog.Logger) *Handler {
	return &Handler{svc: svc, token: token, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/entropy", h.HandleEntropy)
	r.Post("/api/v1/agreement/init", h.HandleAgreementInit)
	r.Post("/api/v1/agreement/sync", h.HandleAgreementSync)
}

func (h *Handler) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == h.token
}

// HandleEntropy serves GET /api/v1/entropy?size=N.
func (h *Handler) HandleEntropy(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}

	size, err := strconv.ParseUint(r.URL.Query().Get("size"), 10, 64)
	if err != nil {
		http.Error(w, fmt.Errorf("invalid size parameter: %w", err).Error(), http.StatusBadRequest)
		return
	}

	random, err := h.svc.FetchRandom(r.Context(), h.token, size)
	if err != nil {
		h.log.Warn("Entropy request failed", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, qrand.EntropyResponse{Random: random})
}

// HandleAgreementInit serves POST /api/v1/agreement/init.
func (h *Handler) HandleAgreementInit(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}

	var req qrand.AgreementInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Errorf("could not parse request: %w", err).Error(), http.StatusBadRequest)
		return
	}

	mode, err := interfaces.ParseSymmetricKeyMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	keyData, err := h.svc.Initiate(r.Context(), h.token, mode, req.KeySize)
	if err != nil {
		h.log.Warn("Agreement init failed", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, qrand.AgreementInitResponse{Key: keyData.Key, Metadata: keyData.Metadata})
}

// HandleAgreementSync serves POST /api/v1/agreement/sync. Unknown and expired
// sessions return 404 so clients map them back to ErrUnknownSession.
func (h *Handler) HandleAgreementSync(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}

	var req qrand.AgreementSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Errorf("could not parse request: %w", err).Error(), http.StatusBadRequest)
		return
	}

	key, err := h.svc.Sync(r.Context(), h.token, req.Metadata)
	if errors.Is(err, interfaces.ErrUnknownSession) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, qrand.AgreementSyncResponse{Key: key})
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Could not encode response", "err", err)
	}
}

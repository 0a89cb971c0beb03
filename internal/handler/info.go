package handler

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"
)

const privacyPolicy = "Dilworth Creative LLC only processes the information required to deliver" +
	" purchased art shows. Email addresses are used strictly to authenticate" +
	" purchases, and any media streaming activity stays on your device. No" +
	" personal data is sold or shared with third parties."

// InfoHandler serves probes and static informational endpoints.
type InfoHandler struct {
	db          *sql.DB
	appName     string
	environment string
	contact     string
	logger      *slog.Logger
}

func NewInfoHandler(db *sql.DB, appName, environment, contact string, logger *slog.Logger) *InfoHandler {
	return &InfoHandler{db: db, appName: appName, environment: environment, contact: contact, logger: logger}
}

func (h *InfoHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"service":     h.appName,
		"environment": h.environment,
	})
}

// Readiness pings the database.
func (h *InfoHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *InfoHandler) Privacy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"application": h.appName,
		"owner":       "Dilworth Creative LLC",
		"contact":     h.contact,
		"policy":      privacyPolicy,
	})
}

type userRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type userResponse struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// User echoes a validated email address.
func (h *InfoHandler) User(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Email: req.Email, Message: "Email received"})
}

package handler

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/dukerupert/pickletv/internal/apperr"
	"github.com/dukerupert/pickletv/internal/auth"
	"github.com/dukerupert/pickletv/internal/middleware"
	"github.com/dukerupert/pickletv/internal/model"
	"github.com/dukerupert/pickletv/internal/websocket"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const deviceIDDisplayLen = 12

type AuthHandler struct {
	svc      *auth.Service
	streamer *websocket.Streamer
	logger   *slog.Logger
}

func NewAuthHandler(svc *auth.Service, streamer *websocket.Streamer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, streamer: streamer, logger: logger}
}

type magicLinkRequest struct {
	Email              string `json:"email" validate:"required,email,max=320"`
	DeviceID           string `json:"deviceId" validate:"required,max=255"`
	DeviceModel        string `json:"deviceModel" validate:"max=255"`
	DeviceManufacturer string `json:"deviceManufacturer" validate:"max=255"`
	Platform           string `json:"platform" validate:"max=64"`
}

// MagicLink issues a sign-in link and emails it.
func (h *AuthHandler) MagicLink(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	_, err := h.svc.Issue(r.Context(), auth.IssueRequest{
		Email:    req.Email,
		DeviceID: req.DeviceID,
		ClientIP: middleware.RealIP(r),
		Device: model.DeviceMetadata{
			Model:        req.DeviceModel,
			Manufacturer: req.DeviceManufacturer,
			Platform:     req.Platform,
		},
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Magic link sent! Check your email to complete sign in.",
	})
}

type verifyResponse struct {
	Email    string `json:"email"`
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
}

// Verify redeems the link a user clicked. Browsers get an HTML page; clients
// that ask for JSON get JSON.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token, err := requireQuery(r, "token")
	if err != nil {
		h.verifyFailed(w, r, err)
		return
	}
	deviceID, err := requireQuery(r, "deviceId")
	if err != nil {
		h.verifyFailed(w, r, err)
		return
	}

	res, err := h.svc.Verify(r.Context(), token, deviceID)
	if err != nil {
		h.verifyFailed(w, r, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, verifyResponse{
			Email:    res.User.Email,
			UserID:   res.User.ID,
			DeviceID: deviceID,
		})
		return
	}

	short := deviceID
	if len(short) > deviceIDDisplayLen {
		short = short[:deviceIDDisplayLen]
	}
	h.render(w, http.StatusOK, "verify_success.html", map[string]any{
		"Email":         res.User.Email,
		"DeviceIDShort": short,
	})
}

func (h *AuthHandler) verifyFailed(w http.ResponseWriter, r *http.Request, err error) {
	if wantsJSON(r) {
		writeError(w, r, h.logger, err)
		return
	}
	e := apperr.As(err)
	if e.Kind.Status() >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "verify failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
	}
	h.render(w, e.Kind.Status(), "verify_error.html", map[string]any{
		"Title":   errorTitle(e.Kind),
		"Message": e.Message,
	})
}

func errorTitle(k apperr.Kind) string {
	switch k {
	case apperr.BadRequest:
		return "Invalid Link"
	case apperr.Unauthorized:
		return "Sign In Failed"
	case apperr.AlreadyUsed:
		return "Link Already Used"
	default:
		return "Something Went Wrong"
	}
}

func (h *AuthHandler) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error("render template", "template", name, "error", err)
	}
}

// Status reports whether the device has completed sign-in.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	deviceID, err := requireQuery(r, "deviceId")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	st, err := h.svc.Status(r.Context(), deviceID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// StatusStream upgrades to a WebSocket that pushes status frames until the
// device signs in or the link lifetime elapses.
func (h *AuthHandler) StatusStream(w http.ResponseWriter, r *http.Request) {
	deviceID, err := requireQuery(r, "deviceId")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.streamer.Serve(w, r, deviceID)
}

// Logout invalidates the device's outstanding links.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	deviceID, err := requireQuery(r, "deviceId")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if _, err := h.svc.Logout(r.Context(), deviceID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Device logged out successfully",
	})
}

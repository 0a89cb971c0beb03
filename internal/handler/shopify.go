package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/pickletv/internal/apperr"
	"github.com/dukerupert/pickletv/internal/shopify"
)

const maxWebhookBody = 1 << 20

type ShopifyHandler struct {
	svc    *shopify.Service
	logger *slog.Logger
}

func NewShopifyHandler(svc *shopify.Service, logger *slog.Logger) *ShopifyHandler {
	return &ShopifyHandler{svc: svc, logger: logger}
}

type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

// CustomerCreate handles the customers/create webhook.
func (h *ShopifyHandler) CustomerCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, h.logger, apperr.New(apperr.BadRequest, "Request body too large"))
			return
		}
		writeError(w, r, h.logger, apperr.Wrap(apperr.BadRequest, "Failed to read request body", err))
		return
	}

	res, err := h.svc.CustomerCreated(r.Context(), shopify.Webhook{
		Body:      body,
		Signature: r.Header.Get(shopify.HeaderHmac),
		Topic:     r.Header.Get(shopify.HeaderTopic),
		Shop:      r.Header.Get(shopify.HeaderDomain),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Success: true,
		Message: "User created/updated successfully",
		UserID:  res.UserID,
	})
}

// Package shopify ingests Shopify customer webhooks into the user table.
package shopify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/pickletv/internal/apperr"
	"github.com/dukerupert/pickletv/internal/auth"
	"github.com/dukerupert/pickletv/internal/metrics"
	"github.com/dukerupert/pickletv/internal/store"
)

const (
	HeaderHmac   = "X-Shopify-Hmac-Sha256"
	HeaderTopic  = "X-Shopify-Topic"
	HeaderDomain = "X-Shopify-Shop-Domain"
)

// VerifySignature reports whether header is the base64 HMAC-SHA256 of body
// keyed with secret. An empty secret or header never verifies.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	provided, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// Sign returns the header value Shopify would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Customer is the subset of the customers/create payload we use.
type Customer struct {
	ID        int64   `json:"id"`
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// DisplayName joins first and last name, or returns "" when both are blank.
func (c Customer) DisplayName() string {
	var first, last string
	if c.FirstName != nil {
		first = *c.FirstName
	}
	if c.LastName != nil {
		last = *c.LastName
	}
	return strings.TrimSpace(first + " " + last)
}

// Webhook carries the raw delivery as received.
type Webhook struct {
	Body      []byte
	Signature string
	Topic     string
	Shop      string
}

// Result is returned to Shopify on success.
type Result struct {
	UserID  string
	Created bool
}

type Service struct {
	users  *store.UserStore
	secret string
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithClock overrides the service's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(users *store.UserStore, secret string, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{users: users, secret: secret, logger: logger, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CustomerCreated verifies the delivery and creates or updates the customer's
// user row.
func (s *Service) CustomerCreated(ctx context.Context, wh Webhook) (*Result, error) {
	if !VerifySignature(s.secret, wh.Body, wh.Signature) {
		metrics.ShopifyWebhooksTotal.WithLabelValues("invalid_signature").Inc()
		s.logger.WarnContext(ctx, "invalid webhook signature", "shop", wh.Shop)
		return nil, apperr.New(apperr.SignatureInvalid, "Invalid webhook signature")
	}
	s.logger.InfoContext(ctx, "received webhook", "topic", wh.Topic, "shop", wh.Shop)

	var c Customer
	if err := json.Unmarshal(wh.Body, &c); err != nil {
		metrics.ShopifyWebhooksTotal.WithLabelValues("bad_request").Inc()
		s.logger.ErrorContext(ctx, "parse customer", "error", err)
		return nil, apperr.Wrap(apperr.BadRequest, "Invalid customer data", err)
	}
	email := ""
	if c.Email != nil {
		email = auth.NormalizeEmail(*c.Email)
	}
	if email == "" {
		metrics.ShopifyWebhooksTotal.WithLabelValues("bad_request").Inc()
		s.logger.WarnContext(ctx, "customer has no email", "customer_id", c.ID)
		return nil, apperr.New(apperr.BadRequest, "Customer email is required")
	}

	u, created, err := s.users.Upsert(ctx, email, c.DisplayName(), s.now())
	if err != nil {
		metrics.ShopifyWebhooksTotal.WithLabelValues("error").Inc()
		return nil, apperr.Wrap(apperr.Internal, "Failed to process customer", err)
	}
	if created {
		metrics.ShopifyWebhooksTotal.WithLabelValues("created").Inc()
		s.logger.InfoContext(ctx, "created user from customer", "user_id", u.ID, "customer_id", c.ID)
	} else {
		metrics.ShopifyWebhooksTotal.WithLabelValues("updated").Inc()
		s.logger.InfoContext(ctx, "updated user from customer", "user_id", u.ID, "customer_id", c.ID)
	}
	return &Result{UserID: u.ID, Created: created}, nil
}

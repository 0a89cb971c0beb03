// Package auth implements passwordless magic-link sign-in for TV devices.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/pickletv/internal/apperr"
	"github.com/dukerupert/pickletv/internal/email"
	"github.com/dukerupert/pickletv/internal/metrics"
	"github.com/dukerupert/pickletv/internal/middleware"
	"github.com/dukerupert/pickletv/internal/model"
	"github.com/dukerupert/pickletv/internal/store"
)

const tokenBytes = 32

// Client-facing messages. Not-found and expired share one message so the two
// cases are indistinguishable.
const (
	msgRateLimited  = "Too many requests. Please try again later."
	msgSendFailed   = "Failed to send magic link"
	msgInvalidLink  = "Invalid or expired magic link"
	msgAlreadyUsed  = "This magic link has already been used"
	msgWrongDevice  = "This link was issued for a different device"
	msgVerifyFailed = "Failed to verify magic link"
	msgStatusFailed = "Failed to check authentication status"
	msgLogoutFailed = "Failed to log out device"
	msgIssueFailed  = "Failed to create magic link"
)

var (
	errExpired     = errors.New("magic link expired")
	errWrongDevice = errors.New("device mismatch")
)

// Config holds the tunables of the sign-in flow.
type Config struct {
	BaseURL    string
	Expiry     time.Duration
	Lookback   time.Duration
	EmailLimit int
	IPLimit    int
	Window     time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		Expiry:     15 * time.Minute,
		Lookback:   5 * time.Minute,
		EmailLimit: 3,
		IPLimit:    10,
		Window:     time.Hour,
	}
}

// Service issues, verifies, and revokes magic links.
type Service struct {
	links    *store.MagicLinkStore
	limiter  *middleware.RateLimiter
	sender   email.Sender
	cfg      Config
	now      func() time.Time
	onChange func(deviceID string)
	logger   *slog.Logger
}

type Option func(*Service)

// WithClock overrides the service's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStatusListener registers fn to be called after a device's status may
// have changed (verification or logout).
func WithStatusListener(fn func(deviceID string)) Option {
	return func(s *Service) { s.onChange = fn }
}

func NewService(links *store.MagicLinkStore, limiter *middleware.RateLimiter, sender email.Sender, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		links:   links,
		limiter: limiter,
		sender:  sender,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IssueRequest is a request for a new magic link.
type IssueRequest struct {
	Email    string
	DeviceID string
	ClientIP string
	Device   model.DeviceMetadata
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Issue rate-limits the request, stores a new link, and emails it. If
// delivery fails the link stays stored and simply expires unused.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*model.MagicLink, error) {
	addr := NormalizeEmail(req.Email)

	if !s.limiter.Allow("email:"+addr, s.cfg.EmailLimit, s.cfg.Window) {
		metrics.MagicLinksIssuedTotal.WithLabelValues("rate_limited").Inc()
		s.logger.WarnContext(ctx, "rate limit exceeded", "scope", "email", "email", addr)
		return nil, apperr.New(apperr.RateLimited, msgRateLimited)
	}
	if !s.limiter.Allow("ip:"+req.ClientIP, s.cfg.IPLimit, s.cfg.Window) {
		metrics.MagicLinksIssuedTotal.WithLabelValues("rate_limited").Inc()
		s.logger.WarnContext(ctx, "rate limit exceeded", "scope", "ip", "ip", req.ClientIP)
		return nil, apperr.New(apperr.RateLimited, msgRateLimited)
	}

	token, err := generateToken()
	if err != nil {
		metrics.MagicLinksIssuedTotal.WithLabelValues("error").Inc()
		return nil, apperr.Wrap(apperr.Internal, msgIssueFailed, err)
	}

	platform := req.Device.Platform
	if platform == "" {
		platform = model.DefaultPlatform
	}
	now := s.now().UTC()
	ml := &model.MagicLink{
		Token:              token,
		Email:              addr,
		DeviceID:           req.DeviceID,
		DeviceModel:        optional(req.Device.Model),
		DeviceManufacturer: optional(req.Device.Manufacturer),
		Platform:           &platform,
		ExpiresAt:          now.Add(s.cfg.Expiry),
	}
	if err := s.links.Create(ctx, ml, now); err != nil {
		metrics.MagicLinksIssuedTotal.WithLabelValues("error").Inc()
		return nil, apperr.Wrap(apperr.Internal, msgIssueFailed, err)
	}

	msg, err := email.NewMagicLinkMessage(addr, email.MagicLink{
		URL:                s.VerifyURL(token, req.DeviceID),
		DeviceID:           req.DeviceID,
		DeviceModel:        req.Device.Model,
		DeviceManufacturer: req.Device.Manufacturer,
		ExpiresIn:          s.cfg.Expiry,
	})
	if err != nil {
		metrics.MagicLinksIssuedTotal.WithLabelValues("error").Inc()
		return nil, apperr.Wrap(apperr.Internal, msgIssueFailed, err)
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		metrics.MagicLinksIssuedTotal.WithLabelValues("delivery_failure").Inc()
		s.logger.ErrorContext(ctx, "send magic link", "email", addr, "error", err)
		return nil, apperr.Wrap(apperr.DeliveryFailure, msgSendFailed, err)
	}

	metrics.MagicLinksIssuedTotal.WithLabelValues("sent").Inc()
	s.logger.InfoContext(ctx, "magic link sent", "email", addr, "device_id", req.DeviceID)
	return ml, nil
}

// VerifyURL builds the link a user clicks to verify token on deviceID.
func (s *Service) VerifyURL(token, deviceID string) string {
	sep := "?"
	if strings.Contains(s.cfg.BaseURL, "?") {
		sep = "&"
	}
	return s.cfg.BaseURL + sep + "token=" + url.QueryEscape(token) + "&deviceId=" + url.QueryEscape(deviceID)
}

// VerifyResult is the outcome of a successful verification.
type VerifyResult struct {
	Link *model.MagicLink
	User *model.User
}

// Verify redeems token for deviceID. Checks run in order: existence, expiry,
// prior use, device binding. The link is marked used and the user resolved
// in a single transaction.
func (s *Service) Verify(ctx context.Context, token, deviceID string) (*VerifyResult, error) {
	now := s.now().UTC()

	ml, u, err := s.links.Redeem(ctx, token, now, func(ml *model.MagicLink) error {
		switch {
		case ml.Expired(now):
			return errExpired
		case ml.Used:
			return store.ErrAlreadyUsed
		case ml.DeviceID != deviceID:
			return errWrongDevice
		}
		return nil
	})
	if err != nil {
		return nil, s.verifyError(ctx, deviceID, err)
	}

	metrics.MagicLinksVerifiedTotal.WithLabelValues("verified").Inc()
	s.logger.InfoContext(ctx, "magic link verified", "user_id", u.ID, "device_id", deviceID)
	s.notify(deviceID)
	return &VerifyResult{Link: ml, User: u}, nil
}

func (s *Service) verifyError(ctx context.Context, deviceID string, err error) error {
	var result string
	var out *apperr.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		result, out = "invalid", apperr.New(apperr.Unauthorized, msgInvalidLink)
	case errors.Is(err, errExpired):
		result, out = "expired", apperr.New(apperr.Unauthorized, msgInvalidLink)
	case errors.Is(err, store.ErrAlreadyUsed):
		result, out = "already_used", apperr.New(apperr.AlreadyUsed, msgAlreadyUsed)
	case errors.Is(err, errWrongDevice):
		result, out = "wrong_device", apperr.New(apperr.Unauthorized, msgWrongDevice)
	default:
		result, out = "error", apperr.Wrap(apperr.Internal, msgVerifyFailed, err)
	}
	metrics.MagicLinksVerifiedTotal.WithLabelValues(result).Inc()
	s.logger.WarnContext(ctx, "magic link rejected", "reason", result, "device_id", deviceID)
	return out
}

// Status reports whether deviceID completed a verification within the
// lookback window.
func (s *Service) Status(ctx context.Context, deviceID string) (*model.AuthStatus, error) {
	since := s.now().UTC().Add(-s.cfg.Lookback)
	_, u, err := s.links.LatestVerifiedForDevice(ctx, deviceID, since)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, msgStatusFailed, err)
	}

	st := &model.AuthStatus{DeviceID: deviceID}
	if u != nil {
		st.Authenticated = true
		st.Email = &u.Email
		st.UserID = &u.ID
		st.DisplayName = u.DisplayName
	}
	return st, nil
}

// Logout invalidates every outstanding link for deviceID and returns how many
// were affected.
func (s *Service) Logout(ctx context.Context, deviceID string) (int64, error) {
	n, err := s.links.InvalidateDevice(ctx, deviceID, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "logout device", "device_id", deviceID, "error", err)
		return 0, apperr.Wrap(apperr.Internal, msgLogoutFailed, err)
	}
	s.logger.InfoContext(ctx, "device logged out", "device_id", deviceID, "invalidated", n)
	s.notify(deviceID)
	return n, nil
}

func (s *Service) notify(deviceID string) {
	if s.onChange != nil {
		s.onChange(deviceID)
	}
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

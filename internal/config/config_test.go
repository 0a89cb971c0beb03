package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("port = %q, want %q", cfg.Port, "8000")
	}
	if cfg.MagicLink.Expiry != 15*time.Minute {
		t.Errorf("expiry = %v, want 15m", cfg.MagicLink.Expiry)
	}
	if cfg.MagicLink.StatusLookback != 5*time.Minute {
		t.Errorf("lookback = %v, want 5m", cfg.MagicLink.StatusLookback)
	}
	if cfg.RateLimit.PerEmail != 3 || cfg.RateLimit.PerIP != 10 {
		t.Errorf("limits = %d/%d, want 3/10", cfg.RateLimit.PerEmail, cfg.RateLimit.PerIP)
	}
	if cfg.RateLimit.Window != time.Hour {
		t.Errorf("window = %v, want 1h", cfg.RateLimit.Window)
	}
	if cfg.TrustProxyHeaders {
		t.Error("proxy headers should be untrusted by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TV_API_PORT", "9090")
	t.Setenv("TV_API_RATE_LIMIT_PER_EMAIL", "5")
	t.Setenv("TV_API_MAGIC_LINK_EXPIRY", "30m")
	t.Setenv("TV_API_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("TV_API_TRUST_PROXY_HEADERS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("port = %q, want %q", cfg.Port, "9090")
	}
	if cfg.RateLimit.PerEmail != 5 {
		t.Errorf("per email = %d, want 5", cfg.RateLimit.PerEmail)
	}
	if cfg.MagicLink.Expiry != 30*time.Minute {
		t.Errorf("expiry = %v, want 30m", cfg.MagicLink.Expiry)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("cors origins = %v, want 2 entries", cfg.CORSOrigins)
	}
	if !cfg.TrustProxyHeaders {
		t.Error("trust proxy headers = false, want true")
	}
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"driver", "TV_API_DB_DRIVER", "mysql", "TV_API_DB_DRIVER"},
		{"email provider", "TV_API_EMAIL_PROVIDER", "carrier-pigeon", "TV_API_EMAIL_PROVIDER"},
		{"assets backend", "TV_API_ASSETS_BACKEND", "ftp", "TV_API_ASSETS_BACKEND"},
		{"postmark token", "TV_API_EMAIL_PROVIDER", "postmark", "TV_API_POSTMARK_TOKEN"},
		{"s3 bucket", "TV_API_ASSETS_BACKEND", "s3", "TV_API_ASSETS_S3_BUCKET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want mention of %s", err, tt.want)
			}
		})
	}
}

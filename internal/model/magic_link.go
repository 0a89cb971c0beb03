package model

import "time"

// DefaultPlatform is recorded when a client does not report its platform.
const DefaultPlatform = "android-tv"

type MagicLink struct {
	ID                 string     `json:"id"`
	Token              string     `json:"-"`
	Email              string     `json:"email"`
	DeviceID           string     `json:"device_id"`
	DeviceModel        *string    `json:"device_model,omitempty"`
	DeviceManufacturer *string    `json:"device_manufacturer,omitempty"`
	Platform           *string    `json:"platform,omitempty"`
	ExpiresAt          time.Time  `json:"expires_at"`
	Used               bool       `json:"used"`
	UsedAt             *time.Time `json:"used_at,omitempty"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Expired reports whether the link is no longer valid at now.
// A link is still valid at exactly its expiry instant.
func (m *MagicLink) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// DeviceMetadata is the optional client-reported device description.
type DeviceMetadata struct {
	Model        string
	Manufacturer string
	Platform     string
}

// AuthStatus is the answer to a device's status poll.
type AuthStatus struct {
	Authenticated bool    `json:"authenticated"`
	DeviceID      string  `json:"deviceId"`
	Email         *string `json:"email,omitempty"`
	UserID        *string `json:"userId,omitempty"`
	DisplayName   *string `json:"displayName,omitempty"`
}

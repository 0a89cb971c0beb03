package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/pickletv/internal/model"
	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrAlreadyUsed = errors.New("already used")
)

type MagicLinkStore struct {
	db *sql.DB
}

func NewMagicLinkStore(db *sql.DB) *MagicLinkStore {
	return &MagicLinkStore{db: db}
}

func scanMagicLink(scanner interface{ Scan(...any) error }) (*model.MagicLink, error) {
	var ml model.MagicLink
	var deviceModel, deviceManufacturer, platform sql.NullString
	var usedAt, revokedAt sql.NullTime

	err := scanner.Scan(
		&ml.ID, &ml.Token, &ml.Email, &ml.DeviceID,
		&deviceModel, &deviceManufacturer, &platform,
		&ml.ExpiresAt, &ml.Used, &usedAt, &revokedAt, &ml.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	ml.DeviceModel = nullStringPtr(deviceModel)
	ml.DeviceManufacturer = nullStringPtr(deviceManufacturer)
	ml.Platform = nullStringPtr(platform)
	if usedAt.Valid {
		ml.UsedAt = &usedAt.Time
	}
	if revokedAt.Valid {
		ml.RevokedAt = &revokedAt.Time
	}
	return &ml, nil
}

const magicLinkCols = `id, token, email, device_id, device_model, device_manufacturer, platform, expires_at, used, used_at, revoked_at, created_at`

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func stringPtrArg(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Create inserts a new unused link. ID and CreatedAt are assigned here.
func (s *MagicLinkStore) Create(ctx context.Context, ml *model.MagicLink, now time.Time) error {
	ml.ID = uuid.NewString()
	ml.CreatedAt = now.UTC()
	ml.ExpiresAt = ml.ExpiresAt.UTC()
	ml.Used = false

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO magic_links (id, token, email, device_id, device_model, device_manufacturer, platform, expires_at, used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)`,
		ml.ID, ml.Token, ml.Email, ml.DeviceID,
		stringPtrArg(ml.DeviceModel), stringPtrArg(ml.DeviceManufacturer), stringPtrArg(ml.Platform),
		ml.ExpiresAt, ml.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert magic link: %w", err)
	}
	return nil
}

// GetByToken returns the link for token, or nil if none exists.
func (s *MagicLinkStore) GetByToken(ctx context.Context, token string) (*model.MagicLink, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+magicLinkCols+` FROM magic_links WHERE token = $1`, token)
	ml, err := scanMagicLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get magic link by token: %w", err)
	}
	return ml, nil
}

// Redeem marks the link for token as used and resolves its user, all in one
// transaction. validate runs against the loaded row before the update; a
// non-nil result aborts the redemption and is returned unchanged.
//
// Returns ErrNotFound when no link has the token and ErrAlreadyUsed when the
// conditional update matched no row.
func (s *MagicLinkStore) Redeem(ctx context.Context, token string, usedAt time.Time, validate func(*model.MagicLink) error) (*model.MagicLink, *model.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+magicLinkCols+` FROM magic_links WHERE token = $1`, token)
	ml, err := scanMagicLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get magic link by token: %w", err)
	}

	if validate != nil {
		if err := validate(ml); err != nil {
			return ml, nil, err
		}
	}

	usedAt = usedAt.UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE magic_links SET used = TRUE, used_at = $1 WHERE id = $2 AND used = FALSE`,
		usedAt, ml.ID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("mark magic link used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ml, nil, ErrAlreadyUsed
	}
	ml.Used = true
	ml.UsedAt = &usedAt

	u, err := findOrCreateUser(ctx, tx, ml.Email, usedAt)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return ml, u, nil
}

// LatestVerifiedForDevice returns the most recently verified, non-revoked
// link for the device with used_at after since, joined to its user. Both are
// nil when there is none.
func (s *MagicLinkStore) LatestVerifiedForDevice(ctx context.Context, deviceID string, since time.Time) (*model.MagicLink, *model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT m.id, m.token, m.email, m.device_id, m.device_model, m.device_manufacturer, m.platform,
		        m.expires_at, m.used, m.used_at, m.revoked_at, m.created_at,
		        u.id, u.email, u.display_name, u.created_at, u.updated_at
		 FROM magic_links m
		 JOIN users u ON u.email = m.email
		 WHERE m.device_id = $1 AND m.used = TRUE AND m.revoked_at IS NULL AND m.used_at > $2
		 ORDER BY m.used_at DESC
		 LIMIT 1`,
		deviceID, since.UTC(),
	)

	var ml model.MagicLink
	var u model.User
	var deviceModel, deviceManufacturer, platform, displayName sql.NullString
	var usedAt, revokedAt sql.NullTime
	err := row.Scan(
		&ml.ID, &ml.Token, &ml.Email, &ml.DeviceID, &deviceModel, &deviceManufacturer, &platform,
		&ml.ExpiresAt, &ml.Used, &usedAt, &revokedAt, &ml.CreatedAt,
		&u.ID, &u.Email, &displayName, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("latest verified link for device: %w", err)
	}

	ml.DeviceModel = nullStringPtr(deviceModel)
	ml.DeviceManufacturer = nullStringPtr(deviceManufacturer)
	ml.Platform = nullStringPtr(platform)
	if usedAt.Valid {
		ml.UsedAt = &usedAt.Time
	}
	if revokedAt.Valid {
		ml.RevokedAt = &revokedAt.Time
	}
	u.DisplayName = nullStringPtr(displayName)
	return &ml, &u, nil
}

// InvalidateDevice marks every unused link for the device as used and
// revoked. It returns the number of links affected.
func (s *MagicLinkStore) InvalidateDevice(ctx context.Context, deviceID string, now time.Time) (int64, error) {
	now = now.UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE magic_links SET used = TRUE, used_at = $1, revoked_at = $2 WHERE device_id = $3 AND used = FALSE`,
		now, now, deviceID,
	)
	if err != nil {
		return 0, fmt.Errorf("invalidate device links: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

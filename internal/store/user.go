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

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var displayName sql.NullString
	err := scanner.Scan(&u.ID, &u.Email, &displayName, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if displayName.Valid {
		u.DisplayName = &displayName.String
	}
	return &u, nil
}

const userCols = `id, email, display_name, created_at, updated_at`

func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return getUserByEmail(ctx, s.db, email)
}

// FindOrCreate returns the user with the given email, creating it first if
// it does not exist.
func (s *UserStore) FindOrCreate(ctx context.Context, email string, now time.Time) (*model.User, error) {
	return findOrCreateUser(ctx, s.db, email, now)
}

// Upsert creates the user or, when it already exists and displayName is
// non-empty, updates its display name. created reports whether a new row was
// inserted.
func (s *UserStore) Upsert(ctx context.Context, email, displayName string, now time.Time) (u *model.User, created bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var name sql.NullString
	if displayName != "" {
		name = sql.NullString{String: displayName, Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (email) DO NOTHING`,
		uuid.NewString(), email, name, now.UTC(), now.UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	created = n == 1

	if !created && displayName != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET display_name = $1, updated_at = $2 WHERE email = $3`,
			displayName, now.UTC(), email,
		)
		if err != nil {
			return nil, false, fmt.Errorf("update display name: %w", err)
		}
	}

	u, err = getUserByEmail(ctx, tx, email)
	if err != nil {
		return nil, false, err
	}
	if u == nil {
		return nil, false, fmt.Errorf("upsert user %s: row vanished", email)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return u, created, nil
}

func getUserByEmail(ctx context.Context, q querier, email string) (*model.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func findOrCreateUser(ctx context.Context, q querier, email string, now time.Time) (*model.User, error) {
	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, email, created_at, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO NOTHING`,
		uuid.NewString(), email, now.UTC(), now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	u, err := getUserByEmail(ctx, q, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("find or create user %s: row vanished", email)
	}
	return u, nil
}

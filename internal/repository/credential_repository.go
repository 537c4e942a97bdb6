package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/maheshrc27/linkedin-scheduler/internal/models"
	"github.com/maheshrc27/linkedin-scheduler/pkg/utils"
)

// CredentialRepository stores at most one LinkedIn credential per user.
type CredentialRepository interface {
	Get(ctx context.Context, userID int64) (*models.Credential, error)
	Put(ctx context.Context, cred *models.Credential) error
	ReplaceTokens(ctx context.Context, cred *models.Credential) error
	Remove(ctx context.Context, userID int64) error
	ListExpiring(ctx context.Context, before time.Time) ([]*models.Credential, error)
}

const credentialColumns = `user_id, member_urn, access_token, refresh_token, expires_at, version, created_at, updated_at`

type credentialRepository struct {
	db     *sqlx.DB
	cipher *utils.TokenCipher
}

// NewCredentialRepository returns a Postgres-backed store. Tokens are sealed
// with cipher before they reach the database.
func NewCredentialRepository(db *sqlx.DB, cipher *utils.TokenCipher) CredentialRepository {
	return &credentialRepository{db: db, cipher: cipher}
}

func (r *credentialRepository) Get(ctx context.Context, userID int64) (*models.Credential, error) {
	var cred models.Credential
	query := `SELECT ` + credentialColumns + ` FROM linkedin_credentials WHERE user_id = $1`
	if err := r.db.GetContext(ctx, &cred, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotConnected
		}
		slog.Info(err.Error())
		return nil, err
	}
	if err := r.open(&cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// Put creates or replaces the user's credential. The version is bumped on
// replace so any refresh still in flight loses its write-back.
func (r *credentialRepository) Put(ctx context.Context, cred *models.Credential) error {
	access, refresh, err := r.seal(cred)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO linkedin_credentials (
			user_id,
			member_urn,
			access_token,
			refresh_token,
			expires_at,
			version
		)
		VALUES ($1, $2, $3, $4, $5, 1)
		ON CONFLICT (user_id) DO UPDATE SET
			member_urn = EXCLUDED.member_urn,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			version = linkedin_credentials.version + 1,
			updated_at = CURRENT_TIMESTAMP
		RETURNING version, created_at, updated_at
	`
	err = r.db.QueryRowxContext(ctx, query,
		cred.UserID,
		cred.MemberURN,
		access,
		refresh,
		cred.ExpiresAt.UTC(),
	).Scan(&cred.Version, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		slog.Info(err.Error())
		return fmt.Errorf("upsert credential: %w", err)
	}
	cred.ExpiresAt = cred.ExpiresAt.UTC()
	return nil
}

// ReplaceTokens writes refreshed tokens only if the stored version still
// equals cred.Version. On success cred.Version holds the new version.
func (r *credentialRepository) ReplaceTokens(ctx context.Context, cred *models.Credential) error {
	access, refresh, err := r.seal(cred)
	if err != nil {
		return err
	}

	query := `
		UPDATE linkedin_credentials
		SET
			access_token = $3,
			refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
			expires_at = $5,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $1 AND version = $2
		RETURNING version, updated_at
	`
	var version int64
	var updatedAt time.Time
	err = r.db.QueryRowxContext(ctx, query, cred.UserID, cred.Version, access, refresh, cred.ExpiresAt.UTC()).
		Scan(&version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM linkedin_credentials WHERE user_id = $1)`, cred.UserID); err != nil {
			return err
		}
		if !exists {
			return models.ErrNotConnected
		}
		return fmt.Errorf("%w: credential for user %d changed concurrently", models.ErrConflict, cred.UserID)
	}
	if err != nil {
		slog.Info(err.Error())
		return fmt.Errorf("replace tokens: %w", err)
	}

	cred.Version = version
	cred.UpdatedAt = updatedAt
	return nil
}

// Remove deletes the credential. Removing a missing credential is not an error.
func (r *credentialRepository) Remove(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM linkedin_credentials WHERE user_id = $1`, userID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ListExpiring returns credentials whose access token expires at or before
// the given instant, soonest first.
func (r *credentialRepository) ListExpiring(ctx context.Context, before time.Time) ([]*models.Credential, error) {
	var creds []*models.Credential
	query := `SELECT ` + credentialColumns + `
		FROM linkedin_credentials
		WHERE expires_at <= $1
		ORDER BY expires_at ASC, user_id ASC`
	if err := r.db.SelectContext(ctx, &creds, query, before.UTC()); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	for _, c := range creds {
		if err := r.open(c); err != nil {
			return nil, err
		}
	}
	return creds, nil
}

func (r *credentialRepository) seal(cred *models.Credential) (string, string, error) {
	access, err := r.cipher.Encrypt(cred.AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := r.cipher.Encrypt(cred.RefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("encrypt refresh token: %w", err)
	}
	return access, refresh, nil
}

func (r *credentialRepository) open(cred *models.Credential) error {
	var err error
	if cred.AccessToken, err = r.cipher.Decrypt(cred.AccessToken); err != nil {
		return fmt.Errorf("decrypt access token for user %d: %w", cred.UserID, err)
	}
	if cred.RefreshToken, err = r.cipher.Decrypt(cred.RefreshToken); err != nil {
		return fmt.Errorf("decrypt refresh token for user %d: %w", cred.UserID, err)
	}
	cred.ExpiresAt = cred.ExpiresAt.UTC()
	cred.CreatedAt = cred.CreatedAt.UTC()
	cred.UpdatedAt = cred.UpdatedAt.UTC()
	return nil
}

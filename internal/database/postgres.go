package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gocloud.dev/postgres"
	_ "gocloud.dev/postgres/awspostgres"
	_ "gocloud.dev/postgres/gcppostgres"

	"oauth-service/internal/models"
)

// Repository defines the interface for database operations. All single-use
// invariants (code consumption, device state transitions, refresh rotation)
// are conditional updates so concurrent redemptions race safely.
type Repository interface {
	Close() error

	// Clients
	GetClientByClientID(ctx context.Context, clientID string) (*models.Client, error)
	TouchClient(ctx context.Context, clientID string) error

	// Scope catalog
	ListScopes(ctx context.Context) ([]models.Scope, error)

	// Signing keys
	ListSigningKeys(ctx context.Context) ([]models.SigningKey, error)
	InsertSigningKeyAsPrimary(ctx context.Context, key *models.SigningKey, previousRetireAt time.Time) error
	DeactivateRetiredKeys(ctx context.Context, now time.Time) (int64, error)

	// Authorization codes
	InsertAuthorizationCode(ctx context.Context, code *models.AuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error)
	ConsumeAuthorizationCode(ctx context.Context, code string) (bool, error)
	DeleteExpiredAuthorizationCodes(ctx context.Context, now time.Time) (int64, error)

	// Device authorizations
	InsertDeviceAuthorization(ctx context.Context, da *models.DeviceAuthorization) error
	GetDeviceAuthorizationByDeviceCode(ctx context.Context, deviceCode string) (*models.DeviceAuthorization, error)
	GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (*models.DeviceAuthorization, error)
	TransitionDeviceAuthorization(ctx context.Context, deviceCode, fromStatus, toStatus, subject string) (bool, error)
	UpdateDeviceInterval(ctx context.Context, deviceCode string, interval int) error
	DeleteExpiredDeviceAuthorizations(ctx context.Context, cutoff time.Time) (int64, error)

	// Refresh tokens
	InsertRefreshToken(ctx context.Context, token *models.RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, token, replacedBy string) (bool, error)
	RevokeRefreshToken(ctx context.Context, token string) error
	RevokeRefreshTokenFamily(ctx context.Context, familyID string) (int64, error)
}

// PostgresRepository handles database operations.
type PostgresRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRepository opens the database with retry and returns a repository.
func NewRepository(ctx context.Context, databaseURL string, logger *zap.Logger) (Repository, error) {
	var db *sql.DB
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		db, err = postgres.Open(ctx, databaseURL)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				break
			}
			db.Close()
		}
		if i < maxRetries-1 {
			waitTime := time.Duration(i+1) * time.Second
			logger.Warn("Failed to connect to database, retrying...", zap.Int("attempt", i+1), zap.Duration("wait", waitTime), zap.Error(err))
			time.Sleep(waitTime)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	return &PostgresRepository{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection.
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// List-valued client columns are stored as space-separated text, mirroring
// how scope strings travel on the wire.
func joinList(values []string) string {
	return strings.Join(values, " ")
}

func splitList(value string) []string {
	return strings.Fields(value)
}

// GetClientByClientID retrieves a client by its public client_id.
// Returns (nil, nil) when no such client exists.
func (r *PostgresRepository) GetClientByClientID(ctx context.Context, clientID string) (*models.Client, error) {
	query := `
		SELECT id, client_id, client_secret_hash, public, grant_types, allowed_scopes,
		       allowed_audiences, redirect_uris, auth_methods, require_pkce, trusted,
		       verified, disabled, owner_account_id, rate_limit, created_at, updated_at
		FROM oauth_clients
		WHERE client_id = $1
	`

	var client models.Client
	var grantTypes, allowedScopes, allowedAudiences, redirectURIs, authMethods string
	err := r.db.QueryRowContext(ctx, query, clientID).Scan(
		&client.ID,
		&client.ClientID,
		&client.ClientSecretHash,
		&client.Public,
		&grantTypes,
		&allowedScopes,
		&allowedAudiences,
		&redirectURIs,
		&authMethods,
		&client.RequirePKCE,
		&client.Trusted,
		&client.Verified,
		&client.Disabled,
		&client.OwnerAccountID,
		&client.RateLimit,
		&client.CreatedAt,
		&client.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get client", zap.String("client_id", clientID), zap.Error(err))
		return nil, err
	}

	client.GrantTypes = splitList(grantTypes)
	client.AllowedScopes = splitList(allowedScopes)
	client.AllowedAudiences = splitList(allowedAudiences)
	client.RedirectURIs = splitList(redirectURIs)
	client.AuthMethods = splitList(authMethods)

	return &client, nil
}

// TouchClient updates the updated_at timestamp for a client.
func (r *PostgresRepository) TouchClient(ctx context.Context, clientID string) error {
	query := `UPDATE oauth_clients SET updated_at = $1 WHERE client_id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), clientID)
	if err != nil {
		r.logger.Error("Failed to touch client", zap.String("client_id", clientID), zap.Error(err))
		return err
	}
	return nil
}

// ListScopes returns the full scope catalog.
func (r *PostgresRepository) ListScopes(ctx context.Context) ([]models.Scope, error) {
	query := `
		SELECT id, name, description, is_oidc, is_default, is_dangerous,
		       requires_verification, is_public, created_at
		FROM scopes
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list scopes", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var scopes []models.Scope
	for rows.Next() {
		var s models.Scope
		if err := rows.Scan(
			&s.ID,
			&s.Name,
			&s.Description,
			&s.IsOIDC,
			&s.IsDefault,
			&s.IsDangerous,
			&s.RequiresVerification,
			&s.IsPublic,
			&s.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to scan scope", zap.Error(err))
			return nil, err
		}
		scopes = append(scopes, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return scopes, nil
}

// ListSigningKeys returns every signing key row, including inactive ones.
// Key rows are append-only; retirement flips is_active, never deletes.
func (r *PostgresRepository) ListSigningKeys(ctx context.Context) ([]models.SigningKey, error) {
	query := `
		SELECT kid, algorithm, public_pem, private_pem, is_primary, is_active, retire_at, created_at
		FROM signing_keys
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list signing keys", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var keys []models.SigningKey
	for rows.Next() {
		var k models.SigningKey
		var retireAt sql.NullTime
		if err := rows.Scan(
			&k.KID,
			&k.Algorithm,
			&k.PublicPEM,
			&k.PrivatePEM,
			&k.IsPrimary,
			&k.IsActive,
			&retireAt,
			&k.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to scan signing key", zap.Error(err))
			return nil, err
		}
		if retireAt.Valid {
			t := retireAt.Time
			k.RetireAt = &t
		}
		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

// InsertSigningKeyAsPrimary inserts a new primary key and demotes the
// previous primary in one transaction, so exactly one primary exists at any
// observable point. The demoted key stays active until previousRetireAt.
func (r *PostgresRepository) InsertSigningKeyAsPrimary(ctx context.Context, key *models.SigningKey, previousRetireAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("Failed to rollback key rotation", zap.Error(rbErr))
			}
		}
	}()

	demote := `
		UPDATE signing_keys
		SET is_primary = FALSE, retire_at = $1
		WHERE is_primary = TRUE
	`
	if _, err = tx.ExecContext(ctx, demote, previousRetireAt); err != nil {
		r.logger.Error("Failed to demote primary signing key", zap.Error(err))
		return err
	}

	insert := `
		INSERT INTO signing_keys (kid, algorithm, public_pem, private_pem, is_primary, is_active, created_at)
		VALUES ($1, $2, $3, $4, TRUE, TRUE, $5)
	`
	if _, err = tx.ExecContext(ctx, insert,
		key.KID,
		key.Algorithm,
		key.PublicPEM,
		key.PrivatePEM,
		key.CreatedAt,
	); err != nil {
		r.logger.Error("Failed to insert signing key", zap.String("kid", key.KID), zap.Error(err))
		return err
	}

	if err = tx.Commit(); err != nil {
		r.logger.Error("Failed to commit key rotation", zap.Error(err))
		return err
	}

	return nil
}

// DeactivateRetiredKeys flips is_active off for non-primary keys whose
// retire_at has passed.
func (r *PostgresRepository) DeactivateRetiredKeys(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE signing_keys
		SET is_active = FALSE
		WHERE is_primary = FALSE AND is_active = TRUE AND retire_at IS NOT NULL AND retire_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		r.logger.Error("Failed to deactivate retired keys", zap.Error(err))
		return 0, err
	}
	return res.RowsAffected()
}

// InsertAuthorizationCode stores a freshly issued authorization code.
func (r *PostgresRepository) InsertAuthorizationCode(ctx context.Context, code *models.AuthorizationCode) error {
	query := `
		INSERT INTO authorization_codes
			(code, client_id, subject, redirect_uri, scope, code_challenge, code_challenge_method, nonce, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		code.Code,
		code.ClientID,
		code.Subject,
		code.RedirectURI,
		code.Scope,
		code.CodeChallenge,
		code.CodeChallengeMethod,
		code.Nonce,
		code.ExpiresAt,
		code.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert authorization code", zap.String("client_id", code.ClientID), zap.Error(err))
		return err
	}
	return nil
}

// GetAuthorizationCode retrieves a code row. Returns (nil, nil) if absent.
func (r *PostgresRepository) GetAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	query := `
		SELECT code, client_id, subject, redirect_uri, scope, code_challenge,
		       code_challenge_method, nonce, expires_at, consumed_at, created_at
		FROM authorization_codes
		WHERE code = $1
	`

	var ac models.AuthorizationCode
	var consumedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&ac.Code,
		&ac.ClientID,
		&ac.Subject,
		&ac.RedirectURI,
		&ac.Scope,
		&ac.CodeChallenge,
		&ac.CodeChallengeMethod,
		&ac.Nonce,
		&ac.ExpiresAt,
		&consumedAt,
		&ac.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get authorization code", zap.Error(err))
		return nil, err
	}

	if consumedAt.Valid {
		t := consumedAt.Time
		ac.ConsumedAt = &t
	}

	return &ac, nil
}

// ConsumeAuthorizationCode marks a code consumed if and only if it has not
// been consumed yet. Exactly one of any number of concurrent callers
// observes true.
func (r *PostgresRepository) ConsumeAuthorizationCode(ctx context.Context, code string) (bool, error) {
	query := `
		UPDATE authorization_codes
		SET consumed_at = $1
		WHERE code = $2 AND consumed_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, time.Now(), code)
	if err != nil {
		r.logger.Error("Failed to consume authorization code", zap.Error(err))
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteExpiredAuthorizationCodes removes codes past their expiry. Expiry is
// checked at redemption time; this is housekeeping only.
func (r *PostgresRepository) DeleteExpiredAuthorizationCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM authorization_codes WHERE expires_at < $1`, now)
	if err != nil {
		r.logger.Error("Failed to delete expired authorization codes", zap.Error(err))
		return 0, err
	}
	return res.RowsAffected()
}

// InsertDeviceAuthorization stores a new device/user code pair.
func (r *PostgresRepository) InsertDeviceAuthorization(ctx context.Context, da *models.DeviceAuthorization) error {
	query := `
		INSERT INTO device_authorizations
			(device_code, user_code, client_id, scope, subject, status, poll_interval, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		da.DeviceCode,
		da.UserCode,
		da.ClientID,
		da.Scope,
		da.Subject,
		da.Status,
		da.Interval,
		da.ExpiresAt,
		da.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert device authorization", zap.String("client_id", da.ClientID), zap.Error(err))
		return err
	}
	return nil
}

func (r *PostgresRepository) getDeviceAuthorization(ctx context.Context, column, value string) (*models.DeviceAuthorization, error) {
	query := fmt.Sprintf(`
		SELECT id, device_code, user_code, client_id, scope, subject, status, poll_interval, expires_at, created_at
		FROM device_authorizations
		WHERE %s = $1
	`, column)

	var da models.DeviceAuthorization
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&da.ID,
		&da.DeviceCode,
		&da.UserCode,
		&da.ClientID,
		&da.Scope,
		&da.Subject,
		&da.Status,
		&da.Interval,
		&da.ExpiresAt,
		&da.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get device authorization", zap.Error(err))
		return nil, err
	}

	return &da, nil
}

// GetDeviceAuthorizationByDeviceCode retrieves a device authorization by
// its server-held device code. Returns (nil, nil) if absent.
func (r *PostgresRepository) GetDeviceAuthorizationByDeviceCode(ctx context.Context, deviceCode string) (*models.DeviceAuthorization, error) {
	return r.getDeviceAuthorization(ctx, "device_code", deviceCode)
}

// GetDeviceAuthorizationByUserCode retrieves a device authorization by the
// human-typed user code. Returns (nil, nil) if absent.
func (r *PostgresRepository) GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (*models.DeviceAuthorization, error) {
	return r.getDeviceAuthorization(ctx, "user_code", userCode)
}

// TransitionDeviceAuthorization moves a device authorization from one status
// to another, binding the subject when set. The conditional WHERE makes
// concurrent transitions race safely: exactly one wins.
func (r *PostgresRepository) TransitionDeviceAuthorization(ctx context.Context, deviceCode, fromStatus, toStatus, subject string) (bool, error) {
	query := `
		UPDATE device_authorizations
		SET status = $1, subject = CASE WHEN $2 = '' THEN subject ELSE $2 END
		WHERE device_code = $3 AND status = $4
	`
	res, err := r.db.ExecContext(ctx, query, toStatus, subject, deviceCode, fromStatus)
	if err != nil {
		r.logger.Error("Failed to transition device authorization",
			zap.String("from", fromStatus),
			zap.String("to", toStatus),
			zap.Error(err))
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateDeviceInterval stores the increased effective polling interval after
// a slow_down response.
func (r *PostgresRepository) UpdateDeviceInterval(ctx context.Context, deviceCode string, interval int) error {
	query := `UPDATE device_authorizations SET poll_interval = $1 WHERE device_code = $2`
	_, err := r.db.ExecContext(ctx, query, interval, deviceCode)
	if err != nil {
		r.logger.Error("Failed to update device poll interval", zap.Error(err))
		return err
	}
	return nil
}

// DeleteExpiredDeviceAuthorizations removes device rows whose expiry is
// before the cutoff.
func (r *PostgresRepository) DeleteExpiredDeviceAuthorizations(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM device_authorizations WHERE expires_at < $1`, cutoff)
	if err != nil {
		r.logger.Error("Failed to delete expired device authorizations", zap.Error(err))
		return 0, err
	}
	return res.RowsAffected()
}

// InsertRefreshToken stores a refresh token.
func (r *PostgresRepository) InsertRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens
			(token, family_id, client_id, subject, scope, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		token.Token,
		token.FamilyID,
		token.ClientID,
		token.Subject,
		token.Scope,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert refresh token", zap.String("client_id", token.ClientID), zap.Error(err))
		return err
	}
	return nil
}

// GetRefreshToken retrieves a refresh token row. Returns (nil, nil) if
// absent.
func (r *PostgresRepository) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `
		SELECT token, family_id, client_id, subject, scope, expires_at,
		       rotated_at, replaced_by, revoked_at, created_at
		FROM refresh_tokens
		WHERE token = $1
	`

	var rt models.RefreshToken
	var rotatedAt, revokedAt sql.NullTime
	var replacedBy sql.NullString
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&rt.Token,
		&rt.FamilyID,
		&rt.ClientID,
		&rt.Subject,
		&rt.Scope,
		&rt.ExpiresAt,
		&rotatedAt,
		&replacedBy,
		&revokedAt,
		&rt.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get refresh token", zap.Error(err))
		return nil, err
	}

	if rotatedAt.Valid {
		t := rotatedAt.Time
		rt.RotatedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		rt.RevokedAt = &t
	}
	if replacedBy.Valid {
		rt.ReplacedBy = replacedBy.String
	}

	return &rt, nil
}

// RotateRefreshToken marks a token rotated if it is still live. A false
// return on an existing token means the token was already rotated or
// revoked; callers treat that as a reuse signal.
func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, token, replacedBy string) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET rotated_at = $1, replaced_by = $2
		WHERE token = $3 AND rotated_at IS NULL AND revoked_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, time.Now(), replacedBy, token)
	if err != nil {
		r.logger.Error("Failed to rotate refresh token", zap.Error(err))
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeRefreshToken revokes a single refresh token.
func (r *PostgresRepository) RevokeRefreshToken(ctx context.Context, token string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE token = $2 AND revoked_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, time.Now(), token)
	if err != nil {
		r.logger.Error("Failed to revoke refresh token", zap.Error(err))
		return err
	}
	return nil
}

// RevokeRefreshTokenFamily revokes every token in a rotation family.
func (r *PostgresRepository) RevokeRefreshTokenFamily(ctx context.Context, familyID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE family_id = $2 AND revoked_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, time.Now(), familyID)
	if err != nil {
		r.logger.Error("Failed to revoke refresh token family", zap.Error(err))
		return 0, err
	}
	return res.RowsAffected()
}

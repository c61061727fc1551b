package jwtprovider

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/identity"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/logx"
)

// Provider is a JWT-backed identity.Provider. Identities live in the
// identities table; every row carries a token_version that is signed into
// each credential. Bumping the version invalidates everything outstanding,
// which is how both RevokeAllCredentials and the invalidate-and-force-refresh
// step after a claims update work.
type Provider struct {
	db        *sqlx.DB
	secretKey []byte
	issuer    string
	tokenTTL  time.Duration
}

// NewProvider creates a JWT identity provider.
func NewProvider(db *sqlx.DB, secretKey string, tokenTTL time.Duration, issuer string) *Provider {
	if tokenTTL == 0 {
		tokenTTL = time.Hour
	}
	if issuer == "" {
		issuer = "coagline"
	}
	return &Provider{
		db:        db,
		secretKey: []byte(secretKey),
		issuer:    issuer,
		tokenTTL:  tokenTTL,
	}
}

// identityRow is the identities table shape.
type identityRow struct {
	ID           string         `db:"id"`
	Email        string         `db:"email"`
	SecretHash   sql.NullString `db:"secret_hash"`
	Claims       []byte         `db:"claims"`
	TokenVersion int64          `db:"token_version"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r identityRow) toIdentity() (*identity.Identity, error) {
	var claims identity.Claims
	if len(r.Claims) > 0 {
		if err := json.Unmarshal(r.Claims, &claims); err != nil {
			return nil, err
		}
	}
	return &identity.Identity{
		ID:     kernel.IdentityID(r.ID),
		Email:  r.Email,
		Claims: claims,
	}, nil
}

// credentialClaims is the signed JWT payload.
type credentialClaims struct {
	Email        string `json:"email"`
	TokenVersion int64  `json:"ver"`
	identity.Claims
	jwt.RegisteredClaims
}

// ============================================================================
// Verification
// ============================================================================

// Verify validates a bearer credential. Every failure mode collapses into the
// single unauthenticated error; the cause is logged at debug level only.
func (p *Provider) Verify(ctx context.Context, credential string) (*identity.Identity, error) {
	token, err := jwt.ParseWithClaims(credential, &credentialClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secretKey, nil
	})
	if err != nil || !token.Valid {
		logx.WithError(err).Debug("credential verification failed")
		return nil, identity.ErrUnauthenticated()
	}

	claims, ok := token.Claims.(*credentialClaims)
	if !ok {
		return nil, identity.ErrUnauthenticated()
	}

	// Impersonation credentials are short-lived, audited and deliberately
	// exempt from version checks so an unrelated revoke-all on the target
	// does not cut off an active support session.
	if !claims.Impersonating {
		version, err := p.currentTokenVersion(ctx, claims.Subject)
		if err != nil {
			logx.WithError(err).Debug("token version lookup failed")
			return nil, identity.ErrUnauthenticated()
		}
		if version != claims.TokenVersion {
			return nil, identity.ErrUnauthenticated()
		}
	}

	return &identity.Identity{
		ID:     kernel.IdentityID(claims.Subject),
		Email:  claims.Email,
		Claims: claims.Claims,
	}, nil
}

func (p *Provider) currentTokenVersion(ctx context.Context, id string) (int64, error) {
	var version int64
	err := p.db.GetContext(ctx, &version, `SELECT token_version FROM identities WHERE id = $1`, id)
	return version, err
}

// ============================================================================
// Claims management
// ============================================================================

// SetClaims persists new claims and bumps token_version so outstanding
// credentials stop verifying and the client mints a fresh one.
func (p *Provider) SetClaims(ctx context.Context, id kernel.IdentityID, claims identity.Claims) error {
	payload, err := json.Marshal(claims)
	if err != nil {
		return errx.Wrap(err, "failed to encode claims", errx.TypeInternal)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE identities
		SET claims = $2, token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1`, id.String(), payload)
	if err != nil {
		return identity.ErrProviderFailure(err).WithDetail("identity_id", id.String())
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if affected == 0 {
		return identity.ErrNotFound().WithDetail("identity_id", id.String())
	}

	return nil
}

// UpdateEmail changes the identity's login email. The version bump forces
// re-authentication, so no credential signed for the old address survives.
func (p *Provider) UpdateEmail(ctx context.Context, id kernel.IdentityID, email string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE identities
		SET email = $2, token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1`, id.String(), email)
	if err != nil {
		return identity.ErrProviderFailure(err).WithDetail("identity_id", id.String())
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if affected == 0 {
		return identity.ErrNotFound().WithDetail("identity_id", id.String())
	}

	return nil
}

// RevokeAllCredentials invalidates every outstanding credential for id.
func (p *Provider) RevokeAllCredentials(ctx context.Context, id kernel.IdentityID) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE identities
		SET token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1`, id.String())
	if err != nil {
		return identity.ErrProviderFailure(err).WithDetail("identity_id", id.String())
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if affected == 0 {
		return identity.ErrNotFound().WithDetail("identity_id", id.String())
	}

	return nil
}

// ============================================================================
// Credential issuance
// ============================================================================

// CreateDelegatedCredential mints a short-lived credential for id carrying
// exactly the given claims.
func (p *Provider) CreateDelegatedCredential(ctx context.Context, id kernel.IdentityID, claims identity.Claims, ttl time.Duration) (string, error) {
	row, err := p.findRow(ctx, id.String())
	if err != nil {
		return "", err
	}
	return p.sign(row.ID, row.Email, row.TokenVersion, claims, ttl)
}

// IssueCredential mints a credential for id from its stored claims, with the
// given session id embedded.
func (p *Provider) IssueCredential(ctx context.Context, id kernel.IdentityID, sessionID string) (string, error) {
	row, err := p.findRow(ctx, id.String())
	if err != nil {
		return "", err
	}

	ident, err := row.toIdentity()
	if err != nil {
		return "", errx.Wrap(err, "failed to decode stored claims", errx.TypeInternal)
	}

	claims := ident.Claims
	claims.SessionID = sessionID
	return p.sign(row.ID, row.Email, row.TokenVersion, claims, p.tokenTTL)
}

func (p *Provider) sign(id, email string, version int64, claims identity.Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	payload := credentialClaims{
		Email:        email,
		TokenVersion: version,
		Claims:       claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   id,
			Audience:  []string{"coagline-api"},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	signed, err := token.SignedString(p.secretKey)
	if err != nil {
		return "", errx.Wrap(err, "failed to sign credential", errx.TypeInternal)
	}
	return signed, nil
}

// ============================================================================
// Primary authentication
// ============================================================================

// Authenticate checks an email/secret pair. Unknown email and wrong secret
// are indistinguishable to the caller.
func (p *Provider) Authenticate(ctx context.Context, email, secret string) (*identity.Identity, error) {
	var row identityRow
	err := p.db.GetContext(ctx, &row, `
		SELECT id, email, secret_hash, claims, token_version, created_at, updated_at
		FROM identities WHERE email = $1`, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, identity.ErrUnauthenticated()
		}
		return nil, identity.ErrProviderFailure(err)
	}

	if !row.SecretHash.Valid {
		return nil, identity.ErrUnauthenticated()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.SecretHash.String), []byte(secret)); err != nil {
		return nil, identity.ErrUnauthenticated()
	}

	ident, err := row.toIdentity()
	if err != nil {
		return nil, errx.Wrap(err, "failed to decode stored claims", errx.TypeInternal)
	}
	return ident, nil
}

// ============================================================================
// Directory operations
// ============================================================================

// LookupByEmail finds an identity by email.
func (p *Provider) LookupByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	var row identityRow
	err := p.db.GetContext(ctx, &row, `
		SELECT id, email, secret_hash, claims, token_version, created_at, updated_at
		FROM identities WHERE email = $1`, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, identity.ErrNotFound().WithDetail("email", email)
		}
		return nil, identity.ErrProviderFailure(err)
	}

	ident, err := row.toIdentity()
	if err != nil {
		return nil, errx.Wrap(err, "failed to decode stored claims", errx.TypeInternal)
	}
	return ident, nil
}

// CreateIdentity provisions a new identity. Re-creating an existing id is
// idempotent and returns the stored identity, so delegated provisioning can
// be retried safely.
func (p *Provider) CreateIdentity(ctx context.Context, ni identity.NewIdentity) (*identity.Identity, error) {
	id := ni.ID.String()
	if id == "" {
		id = uuid.NewString()
	}

	var secretHash sql.NullString
	if ni.Secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(ni.Secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, errx.Wrap(err, "failed to hash secret", errx.TypeInternal)
		}
		secretHash = sql.NullString{String: string(hash), Valid: true}
	}

	payload, err := json.Marshal(ni.Claims)
	if err != nil {
		return nil, errx.Wrap(err, "failed to encode claims", errx.TypeInternal)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO identities (id, email, secret_hash, claims, token_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, NOW(), NOW())`,
		id, ni.Email, secretHash, payload)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			if pqErr.Constraint == "identities_pkey" {
				return p.findIdentity(ctx, id)
			}
			return nil, identity.ErrAlreadyExists().WithDetail("email", ni.Email)
		}
		return nil, identity.ErrProviderFailure(err)
	}

	return &identity.Identity{
		ID:     kernel.IdentityID(id),
		Email:  ni.Email,
		Claims: ni.Claims,
	}, nil
}

// DeleteIdentity removes an identity from the directory.
func (p *Provider) DeleteIdentity(ctx context.Context, id kernel.IdentityID) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id.String())
	if err != nil {
		return identity.ErrProviderFailure(err).WithDetail("identity_id", id.String())
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if affected == 0 {
		return identity.ErrNotFound().WithDetail("identity_id", id.String())
	}

	return nil
}

func (p *Provider) findIdentity(ctx context.Context, id string) (*identity.Identity, error) {
	row, err := p.findRow(ctx, id)
	if err != nil {
		return nil, err
	}

	ident, err := row.toIdentity()
	if err != nil {
		return nil, errx.Wrap(err, "failed to decode stored claims", errx.TypeInternal)
	}
	return ident, nil
}

func (p *Provider) findRow(ctx context.Context, id string) (*identityRow, error) {
	var row identityRow
	err := p.db.GetContext(ctx, &row, `
		SELECT id, email, secret_hash, claims, token_version, created_at, updated_at
		FROM identities WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, identity.ErrNotFound().WithDetail("identity_id", id)
		}
		return nil, identity.ErrProviderFailure(err)
	}
	return &row, nil
}

// Package auth identifies the caller behind an HTTP or gRPC request, either
// from trusted identity headers or from HMAC-hashed API keys bound to roles.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// Queries interface defines database operations needed for authentication.
// Implemented by *db.Queries.
type Queries interface {
	Get(ctx context.Context, name string, dest any, args ...any) error
	Select(ctx context.Context, name string, dest any, args ...any) error
	Exec(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
// Holds in-memory secret map for O(1) lookup and queries for key verification.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	now     func() time.Time
}

// NewAuthenticator creates an authenticator with HMAC secrets and query interface.
func NewAuthenticator(secrets map[string][]byte, queries Queries) *Authenticator {
	return &Authenticator{
		secrets: secrets,
		queries: queries,
		now:     time.Now,
	}
}

// Authenticate validates an API key and returns the principal and roles
// bound to it.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (types.Caller, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return types.Caller{}, err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return types.Caller{}, ErrUnknownKey
	}

	var row struct {
		APIKeyID   string       `db:"api_key_id"`
		Principal  string       `db:"principal"`
		Roles      string       `db:"roles"`
		RevokedAt  sql.NullTime `db:"revoked_at"`
		LastUsedAt sql.NullTime `db:"last_used_at"`
	}
	err = a.queries.Get(ctx, "get-api-key-by-hash", &row, ComputeHMAC(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Caller{}, ErrInvalidKey
	}
	if err != nil {
		return types.Caller{}, fmt.Errorf("database error: %w", err)
	}

	if row.RevokedAt.Valid {
		return types.Caller{}, ErrKeyRevoked
	}

	// 1-minute throttle keeps busy keys from writing on every request.
	now := a.now().UTC()
	if !row.LastUsedAt.Valid || now.Sub(row.LastUsedAt.Time) > time.Minute {
		_, _ = a.queries.Exec(ctx, "update-last-used", now, row.APIKeyID)
	}

	return types.NewCaller(row.Principal, SplitRoles(row.Roles)...), nil
}

// Identify implements Identifier using the API key credential.
func (a *Authenticator) Identify(ctx context.Context, cred Credentials) (types.Caller, error) {
	if cred.APIKey == "" {
		return types.Caller{}, ErrMissingKey
	}
	return a.Authenticate(ctx, cred.APIKey)
}

// IssuedKey describes a key returned by Issue. Key is shown once and never
// stored.
type IssuedKey struct {
	ID        string
	Key       string
	Principal string
	Roles     []string
}

// Issue creates a key for principal bound to roles, signed with the newest
// configured secret.
func (a *Authenticator) Issue(ctx context.Context, principal string, roles []string) (*IssuedKey, error) {
	secretID := a.newestSecretID()
	if secretID == "" {
		return nil, ErrNoSecrets
	}
	if strings.TrimSpace(principal) == "" {
		return nil, fmt.Errorf("principal is required")
	}

	key, err := GenerateAPIKey(secretID)
	if err != nil {
		return nil, err
	}
	id := types.NewRecordID()
	roles = types.NewRoleSet(roles...).Sorted()

	if _, err := a.queries.Exec(ctx, "create-api-key",
		id, principal, strings.Join(roles, ","), secretID, ComputeHMAC(a.secrets[secretID], key), a.now().UTC(),
	); err != nil {
		return nil, fmt.Errorf("failed to store api key: %w", err)
	}
	return &IssuedKey{ID: id, Key: key, Principal: principal, Roles: roles}, nil
}

// Revoke marks the key with id as revoked.
func (a *Authenticator) Revoke(ctx context.Context, id string) error {
	res, err := a.queries.Exec(ctx, "revoke-api-key", a.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("api key %s not found or already revoked", id)
	}
	return nil
}

// KeyInfo is the stored metadata of one key.
type KeyInfo struct {
	ID         string       `db:"api_key_id"`
	Principal  string       `db:"principal"`
	Roles      string       `db:"roles"`
	CreatedAt  time.Time    `db:"created_at"`
	LastUsedAt sql.NullTime `db:"last_used_at"`
	RevokedAt  sql.NullTime `db:"revoked_at"`
}

// List returns every stored key, oldest first.
func (a *Authenticator) List(ctx context.Context) ([]KeyInfo, error) {
	var keys []KeyInfo
	if err := a.queries.Select(ctx, "list-api-keys", &keys); err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// newestSecretID picks the highest secret id. Secret ids are UUIDv7, so
// that is the most recently minted one.
func (a *Authenticator) newestSecretID() string {
	ids := make([]string, 0, len(a.secrets))
	for id := range a.secrets {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	return ids[len(ids)-1]
}

// SplitRoles parses a comma separated role list.
func SplitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

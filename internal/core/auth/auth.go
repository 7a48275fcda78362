// Package auth provides HMAC-based API key authentication for the ingest service.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solatis/bidkeeper/internal/core/logging"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

// clientIDKey is the context key for the authenticated client.
const clientIDKey = contextKey("client_id")

// MetadataKey carries the API key in gRPC request metadata.
const MetadataKey = "x-api-key"

// lastUsedThrottle limits last_used_at writes for busy clients.
const lastUsedThrottle = time.Minute

// Queries defines the database operations needed for authentication.
// Implemented by *db.Queries.
type Queries interface {
	Get(ctx context.Context, name string, dest any, args ...any) error
	Exec(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
// Only the HMAC of a key is stored, so a leaked key table cannot be replayed
// without the environment secret.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	logger  *slog.Logger
	now     func() time.Time
}

// NewAuthenticator creates an authenticator with HMAC secrets and query interface.
func NewAuthenticator(secrets map[string][]byte, queries Queries, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Authenticator{
		secrets: secrets,
		queries: queries,
		logger:  logger,
		now:     time.Now,
	}
}

// SecretIDs returns the configured secret IDs, sorted.
func (a *Authenticator) SecretIDs() []string {
	ids := make([]string, 0, len(a.secrets))
	for id := range a.secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type keyRow struct {
	APIKeyID   string        `db:"api_key_id"`
	ClientID   string        `db:"client_id"`
	RevokedAt  sql.NullInt64 `db:"revoked_at_ms"`
	LastUsedAt sql.NullInt64 `db:"last_used_at_ms"`
}

// Authenticate validates apiKey and returns the owning client_id.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (string, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	// key_hash is unique, so at most one row
	var row keyRow
	err = a.queries.Get(ctx, "get-api-key-by-hash", &row, ComputeHMAC(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyStore, err)
	}

	if row.RevokedAt.Valid {
		return "", ErrKeyRevoked
	}

	now := a.now()
	if shouldUpdateLastUsed(row.LastUsedAt, now) {
		if _, err := a.queries.Exec(ctx, "update-last-used", now.UTC().UnixMilli(), row.APIKeyID); err != nil {
			a.logger.Warn("failed to update api key last use", "api_key_id", row.APIKeyID, "error", err)
		}
	}

	return row.ClientID, nil
}

// shouldUpdateLastUsed throttles last_used_at writes to one per minute.
func shouldUpdateLastUsed(lastUsedMs sql.NullInt64, now time.Time) bool {
	if !lastUsedMs.Valid {
		return true
	}
	return now.Sub(time.UnixMilli(lastUsedMs.Int64)) > lastUsedThrottle
}

// IssueKey generates and stores a new key for clientID under secretID.
// The plaintext key is returned once and never stored.
func (a *Authenticator) IssueKey(ctx context.Context, secretID, clientID, name string) (apiKeyID, apiKey string, err error) {
	secret, ok := a.secrets[secretID]
	if !ok {
		return "", "", ErrUnknownKey
	}
	if clientID == "" {
		return "", "", fmt.Errorf("client id required")
	}

	apiKey, err = GenerateAPIKey(secretID)
	if err != nil {
		return "", "", err
	}

	apiKeyID = uuid.Must(uuid.NewV7()).String()
	_, err = a.queries.Exec(ctx, "insert-api-key",
		apiKeyID, clientID, name, ComputeHMAC(secret, apiKey), secretID, a.now().UTC().UnixMilli())
	if err != nil {
		return "", "", fmt.Errorf("store api key: %w", err)
	}
	return apiKeyID, apiKey, nil
}

// RevokeKey marks a key revoked. Revoking twice is a no-op.
func (a *Authenticator) RevokeKey(ctx context.Context, apiKeyID string) error {
	if _, err := a.queries.Exec(ctx, "revoke-api-key", a.now().UTC().UnixMilli(), apiKeyID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return nil
}

// statusFor maps authentication failures to gRPC status errors.
func statusFor(err error) error {
	switch {
	case errors.Is(err, ErrKeyRevoked):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, ErrKeyStore):
		return status.Error(codes.Unavailable, ErrKeyStore.Error())
	default:
		return status.Error(codes.Unauthenticated, err.Error())
	}
}

// UnaryInterceptor returns gRPC interceptor that authenticates requests.
// Methods listed in skip (full method names) bypass authentication.
func (a *Authenticator) UnaryInterceptor(skip ...string) grpc.UnaryServerInterceptor {
	open := make(map[string]bool, len(skip))
	for _, m := range skip {
		open[m] = true
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if open[info.FullMethod] {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		apiKeys := md.Get(MetadataKey)
		if len(apiKeys) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		clientID, err := a.Authenticate(ctx, apiKeys[0])
		if err != nil {
			a.logger.Debug("authentication failed", "method", info.FullMethod, "error", err)
			return nil, statusFor(err)
		}

		return handler(WithClientID(ctx, clientID), req)
	}
}

// WithClientID returns ctx carrying clientID.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientIDFromContext extracts the authenticated client ID.
// Returns empty string if not found.
func ClientIDFromContext(ctx context.Context) string {
	if clientID, ok := ctx.Value(clientIDKey).(string); ok {
		return clientID
	}
	return ""
}

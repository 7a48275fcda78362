package auth

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solatis/bidkeeper/internal/core/db"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	_, err = db.MigrateUp(ctx, database)
	require.NoError(t, err)
	queries, err := db.LoadQueries(database)
	require.NoError(t, err)

	secrets := map[string][]byte{testSecretID: []byte(strings.Repeat("k", 32))}
	return NewAuthenticator(secrets, queries, nil)
}

func TestAuthenticate_IssuedKey(t *testing.T) {
	ctx := context.Background()
	a := newTestAuthenticator(t)

	keyID, key, err := a.IssueKey(ctx, testSecretID, "exchange-1", "primary")
	require.NoError(t, err)
	require.NotEmpty(t, keyID)

	clientID, err := a.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "exchange-1", clientID)

	// Throttled second use still authenticates
	clientID, err = a.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "exchange-1", clientID)
}

func TestSecretIDs(t *testing.T) {
	a := NewAuthenticator(map[string][]byte{"b": nil, "a": nil}, nil, nil)
	assert.Equal(t, []string{"a", "b"}, a.SecretIDs())
}

func TestAuthenticate_Failures(t *testing.T) {
	ctx := context.Background()
	a := newTestAuthenticator(t)

	_, err := a.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidKeyFormat)

	unknownSecret := FormatAPIKey("ffffffffffffffffffffffffffffffff", testRandom)
	_, err = a.Authenticate(ctx, unknownSecret)
	assert.ErrorIs(t, err, ErrUnknownKey)

	neverIssued := FormatAPIKey(testSecretID, testRandom)
	_, err = a.Authenticate(ctx, neverIssued)
	assert.ErrorIs(t, err, ErrInvalidKey)

	keyID, key, err := a.IssueKey(ctx, testSecretID, "exchange-2", "")
	require.NoError(t, err)
	require.NoError(t, a.RevokeKey(ctx, keyID))
	require.NoError(t, a.RevokeKey(ctx, keyID))

	_, err = a.Authenticate(ctx, key)
	assert.ErrorIs(t, err, ErrKeyRevoked)

	_, _, err = a.IssueKey(ctx, "ffffffffffffffffffffffffffffffff", "x", "")
	assert.ErrorIs(t, err, ErrUnknownKey)
	_, _, err = a.IssueKey(ctx, testSecretID, "", "")
	assert.Error(t, err)
}

func TestShouldUpdateLastUsed(t *testing.T) {
	now := time.Now()
	assert.True(t, shouldUpdateLastUsed(nullMs(0, false), now))
	assert.False(t, shouldUpdateLastUsed(nullMs(now.Add(-30*time.Second).UnixMilli(), true), now))
	assert.True(t, shouldUpdateLastUsed(nullMs(now.Add(-2*time.Minute).UnixMilli(), true), now))
}

func TestUnaryInterceptor(t *testing.T) {
	ctx := context.Background()
	a := newTestAuthenticator(t)
	_, key, err := a.IssueKey(ctx, testSecretID, "exchange-3", "")
	require.NoError(t, err)

	interceptor := a.UnaryInterceptor("/grpc.health.v1.Health/Check")
	info := &grpc.UnaryServerInfo{FullMethod: "/bidkeeper.ingest.v1.IngestAPI/SubmitBidRequest"}

	var seenClient string
	handler := func(ctx context.Context, req any) (any, error) {
		seenClient = ClientIDFromContext(ctx)
		return "ok", nil
	}

	tests := []struct {
		name     string
		ctx      context.Context
		wantCode codes.Code
	}{
		{"no metadata", ctx, codes.Unauthenticated},
		{"missing key", metadata.NewIncomingContext(ctx, metadata.Pairs("other", "x")), codes.Unauthenticated},
		{"malformed key", metadata.NewIncomingContext(ctx, metadata.Pairs(MetadataKey, "nope")), codes.Unauthenticated},
		{"valid key", metadata.NewIncomingContext(ctx, metadata.Pairs(MetadataKey, key)), codes.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seenClient = ""
			_, err := interceptor(tt.ctx, nil, info, handler)
			assert.Equal(t, tt.wantCode, status.Code(err))
			if tt.wantCode == codes.OK {
				assert.Equal(t, "exchange-3", seenClient)
			}
		})
	}

	// Skipped methods need no key
	resp, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, codes.PermissionDenied, status.Code(statusFor(ErrKeyRevoked)))
	assert.Equal(t, codes.Unavailable, status.Code(statusFor(errors.Join(ErrKeyStore, errors.New("db down")))))
	assert.Equal(t, codes.Unauthenticated, status.Code(statusFor(ErrInvalidKey)))
}

func nullMs(ms int64, valid bool) sql.NullInt64 {
	return sql.NullInt64{Int64: ms, Valid: valid}
}

package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/bidkeeper/internal/core/api"
	"github.com/solatis/bidkeeper/internal/core/auth"
	"github.com/solatis/bidkeeper/internal/core/config"
	"github.com/solatis/bidkeeper/internal/core/db"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

// echoService accepts everything without parsing.
type echoService struct{}

func (echoService) SubmitBidRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"status": api.StatusAccepted, "client": auth.ClientIDFromContext(ctx)})
}

func (echoService) ReportBidRequests(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"accepted_count": 0})
}

func newAuthenticator(t *testing.T) *auth.Authenticator {
	t.Helper()
	ctx := context.Background()
	database, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	_, err = db.MigrateUp(ctx, database)
	require.NoError(t, err)
	queries, err := db.LoadQueries(database)
	require.NoError(t, err)

	secrets := map[string][]byte{testSecretID: []byte(strings.Repeat("s", 32))}
	return auth.NewAuthenticator(secrets, queries, nil)
}

// startServer serves s on a loopback port and returns a client connection.
func startServer(t *testing.T, s *GRPCServer) *grpc.ClientConn {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		<-done
	})

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNewGRPCServer_RequiresService(t *testing.T) {
	_, err := NewGRPCServer(config.IngestConfig{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestGRPCServer_AddrFromConfig(t *testing.T) {
	s, err := NewGRPCServer(config.IngestConfig{Host: "127.0.0.1", Port: 50051}, echoService{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:50051", s.Addr())
}

func TestGRPCServer_AuthAndHealth(t *testing.T) {
	ctx := context.Background()
	authenticator := newAuthenticator(t)
	_, key, err := authenticator.IssueKey(ctx, testSecretID, "exchange-9", "")
	require.NoError(t, err)

	s, err := NewGRPCServer(config.IngestConfig{}, echoService{}, authenticator, nil)
	require.NoError(t, err)
	conn := startServer(t, s)

	// Health needs no key
	healthClient := grpc_health_v1.NewHealthClient(conn)
	for _, svc := range []string{"", api.ServiceName} {
		resp, err := healthClient.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: svc})
		require.NoError(t, err)
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
	}

	client := api.NewIngestAPIClient(conn)
	_, err = client.SubmitBidRequest(ctx, &structpb.Struct{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	authed := metadata.AppendToOutgoingContext(ctx, auth.MetadataKey, key)
	resp, err := client.SubmitBidRequest(authed, &structpb.Struct{})
	require.NoError(t, err)
	assert.Equal(t, "exchange-9", resp.GetFields()["client"].GetStringValue())
}

func TestGRPCServer_NoAuthenticator(t *testing.T) {
	s, err := NewGRPCServer(config.IngestConfig{}, echoService{}, nil, nil)
	require.NoError(t, err)
	conn := startServer(t, s)

	resp, err := api.NewIngestAPIClient(conn).SubmitBidRequest(context.Background(), &structpb.Struct{})
	require.NoError(t, err)
	assert.Equal(t, api.StatusAccepted, resp.GetFields()["status"].GetStringValue())
}

func TestGRPCServer_ShutdownReturnsServe(t *testing.T) {
	s, err := NewGRPCServer(config.IngestConfig{}, echoService{}, nil, nil)
	require.NoError(t, err)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(lis) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestMetricsServer_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "bidkeeper", Name: "test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	m := NewMetricsServer(":0", reg, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bidkeeper_test_total 3")

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMetricsServer_ServeAndShutdown(t *testing.T) {
	m := NewMetricsServer("", prometheus.NewRegistry(), nil)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Serve(lis) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + lis.Addr().String() + "/healthz")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.NoError(t, <-done)
}

// Package api provides the gRPC ingest service for bid requests.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/bidkeeper/internal/bidrequest"
	"github.com/solatis/bidkeeper/internal/core/auth"
	"github.com/solatis/bidkeeper/internal/core/config"
	"github.com/solatis/bidkeeper/internal/core/logging"
	"github.com/solatis/bidkeeper/internal/types"
)

// Submitter hands parsed events to the matching engine.
// Satisfied by *rules.Engine.
type Submitter interface {
	Submit(ctx context.Context, ev *types.Event) error
}

// IngestService implements IngestAPIServer.
// Thin orchestration layer: convert, parse, submit, archive.
type IngestService struct {
	submitter Submitter
	parser    *bidrequest.Parser
	archive   *Archive // nil disables archiving
	cfg       config.IngestConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewIngestService creates a service. archive and logger may be nil.
func NewIngestService(submitter Submitter, parser *bidrequest.Parser, archive *Archive, cfg config.IngestConfig, logger *slog.Logger) (*IngestService, error) {
	if submitter == nil {
		return nil, fmt.Errorf("submitter cannot be nil")
	}
	if parser == nil {
		return nil, fmt.Errorf("parser cannot be nil")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max batch size must be positive, got %d", cfg.MaxBatchSize)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &IngestService{
		submitter: submitter,
		parser:    parser,
		archive:   archive,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// SubmitBidRequest parses one bid request and submits it to the engine.
func (s *IngestService) SubmitBidRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	// Archive day is fixed when the request arrives, not when the write happens
	archivePath := s.archivePath()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, ev, err := s.ingest(ctx, req)
	if err != nil {
		s.logger.Debug("bid request not accepted",
			"client_id", auth.ClientIDFromContext(ctx),
			"error", err)
		return nil, statusError(err)
	}

	s.archiveDocs(archivePath, raw)

	return structpb.NewStruct(map[string]any{
		"event_id": ev.ID.String(),
		"status":   StatusAccepted,
	})
}

// ReportBidRequests ingests a batch. Failures are reported per request;
// the call itself only fails for a malformed or oversized batch.
func (s *IngestService) ReportBidRequests(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	archivePath := s.archivePath()

	list := req.GetFields()["bid_requests"].GetListValue()
	if list == nil {
		return nil, status.Error(codes.InvalidArgument, "bid_requests must be a list")
	}
	items := list.GetValues()
	if len(items) > s.cfg.MaxBatchSize {
		return nil, status.Errorf(codes.InvalidArgument,
			"batch size %d exceeds maximum %d", len(items), s.cfg.MaxBatchSize)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	results := make([]any, 0, len(items))
	accepted := make([][]byte, 0, len(items))

	for i, item := range items {
		result := map[string]any{"index": i}

		var (
			raw []byte
			ev  *types.Event
			err error
		)
		if doc := item.GetStructValue(); doc == nil {
			err = &bidrequest.ParseError{Err: errors.New("bid request must be an object")}
		} else {
			raw, ev, err = s.ingest(ctx, doc)
		}

		if err != nil {
			result["status"] = batchStatus(err)
			result["error"] = err.Error()
		} else {
			result["status"] = StatusAccepted
			result["event_id"] = ev.ID.String()
			accepted = append(accepted, raw)
		}
		results = append(results, result)
	}

	s.archiveDocs(archivePath, accepted...)

	if rejected := len(items) - len(accepted); rejected > 0 {
		s.logger.Debug("batch partially accepted",
			"client_id", auth.ClientIDFromContext(ctx),
			"accepted", len(accepted),
			"not_accepted", rejected)
	}

	return structpb.NewStruct(map[string]any{
		"accepted_count": len(accepted),
		"results":        results,
	})
}

// ingest converts, parses and submits one document, returning its JSON form.
func (s *IngestService) ingest(ctx context.Context, doc *structpb.Struct) ([]byte, *types.Event, error) {
	raw, err := protojson.Marshal(doc)
	if err != nil {
		return nil, nil, &bidrequest.ParseError{Err: fmt.Errorf("convert request: %w", err)}
	}

	ev, err := s.parser.Parse(raw)
	if err != nil {
		return nil, nil, err
	}

	if err := s.submitter.Submit(ctx, ev); err != nil {
		return nil, nil, fmt.Errorf("submit event %s: %w", ev.ID, err)
	}
	return raw, ev, nil
}

func (s *IngestService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}

func (s *IngestService) archivePath() string {
	if s.archive == nil {
		return ""
	}
	return s.archive.PathFor(s.now())
}

// archiveDocs is best-effort: the events are already in the engine,
// so a failed write is logged and the request still succeeds.
func (s *IngestService) archiveDocs(path string, docs ...[]byte) {
	if s.archive == nil || len(docs) == 0 {
		return
	}
	if err := s.archive.Append(path, docs...); err != nil {
		s.logger.Warn("failed to archive bid requests",
			"path", path,
			"count", len(docs),
			"error", err)
	}
}

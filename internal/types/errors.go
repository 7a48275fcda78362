package types

import "errors"

// Sentinel errors for bidkeeper operations.
var (
	// ErrMissingField indicates a required bid request field is absent or null.
	ErrMissingField = errors.New("required field missing")

	// ErrCoercionFailed indicates a field could not be converted to its expected type.
	ErrCoercionFailed = errors.New("type coercion failed")

	// ErrInvalidEnum indicates an enum field carries an unrecognised value.
	ErrInvalidEnum = errors.New("invalid enum value")

	// ErrFieldNotFound indicates a field path could not be resolved.
	ErrFieldNotFound = errors.New("field not found")

	// ErrPathTooDeep indicates a field path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrPayloadTooLarge indicates a bid request exceeds MaxBidRequestSize.
	ErrPayloadTooLarge = errors.New("bid request exceeds maximum size")

	// ErrInvalidRule indicates a rule failed validation at registration.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrQueueFull indicates the dispatch queue has no free slot.
	ErrQueueFull = errors.New("dispatch queue full")

	// ErrQueueClosed indicates the dispatch queue no longer accepts events.
	ErrQueueClosed = errors.New("dispatch queue closed")

	// ErrEngineNotRunning indicates an operation that requires a running engine.
	ErrEngineNotRunning = errors.New("engine not running")

	// ErrEngineAlreadyStarted indicates Start was called more than once.
	ErrEngineAlreadyStarted = errors.New("engine already started")

	// ErrEngineStopped indicates the engine is stopping or stopped and cannot be reused.
	ErrEngineStopped = errors.New("engine stopped")
)

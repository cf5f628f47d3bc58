package errors

// CacheError provides specialized error handling for the cache coordinator
// that tracks resident tree nodes. This structure extends the base error
// system with coordinator-specific context while properly supporting
// method chaining through all base error methods, applied here to node
// residency and flush/eviction failures.
type CacheError struct {
	// Embed the base error to inherit all standard error functionality
	// including error chaining, structured details, and error codes.
	*baseError

	// nodeName identifies which node's name was being processed when the
	// error occurred. This is the node's name within its parent, not a
	// full path — the core does not interpret paths.
	nodeName string

	// operation describes what coordinator operation was being performed
	// (e.g. "Pin", "Unpin", "Flush", "Evict", "AppendChild").
	operation string

	// residentCount captures how many nodes were resident at the time of
	// the error, useful for diagnosing capacity and eviction pressure.
	residentCount int

	// pinCount captures the pin count observed on the offending node,
	// relevant for pin/unpin imbalance diagnostics.
	pinCount int
}

// NewCacheError creates a new cache-specific error with the provided context.
func NewCacheError(err error, code ErrorCode, msg string) *CacheError {
	return &CacheError{baseError: NewBaseError(err, code, msg)}
}

// Override base error methods to return *CacheError instead of *baseError.

// WithMessage updates the error message while maintaining the CacheError type.
func (ce *CacheError) WithMessage(msg string) *CacheError {
	ce.baseError.WithMessage(msg)
	return ce
}

// WithCode sets the error code while preserving the CacheError type.
func (ce *CacheError) WithCode(code ErrorCode) *CacheError {
	ce.baseError.WithCode(code)
	return ce
}

// WithDetail adds contextual information while maintaining the CacheError type.
func (ce *CacheError) WithDetail(key string, value any) *CacheError {
	ce.baseError.WithDetail(key, value)
	return ce
}

// WithNodeName records which node's name was involved in the error.
func (ce *CacheError) WithNodeName(name string) *CacheError {
	ce.nodeName = name
	return ce
}

// WithOperation records what coordinator operation was being performed.
func (ce *CacheError) WithOperation(operation string) *CacheError {
	ce.operation = operation
	return ce
}

// WithResidentCount records how many nodes were resident at the time of the error.
func (ce *CacheError) WithResidentCount(count int) *CacheError {
	ce.residentCount = count
	return ce
}

// WithPinCount records the pin count observed on the offending node.
func (ce *CacheError) WithPinCount(count int) *CacheError {
	ce.pinCount = count
	return ce
}

// NodeName returns the node name that was being processed.
func (ce *CacheError) NodeName() string { return ce.nodeName }

// Operation returns the name of the operation that was being performed.
func (ce *CacheError) Operation() string { return ce.operation }

// ResidentCount returns how many nodes were resident when the error occurred.
func (ce *CacheError) ResidentCount() int { return ce.residentCount }

// PinCount returns the pin count observed on the offending node.
func (ce *CacheError) PinCount() int { return ce.pinCount }

// NewCacheClosedError creates the error returned when an operation is
// attempted against an already-closed coordinator.
func NewCacheClosedError(operation string) *CacheError {
	return NewCacheError(nil, ErrorCodeCacheClosed, "operation failed: cache coordinator is closed").
		WithOperation(operation)
}

// NewFlushFailedError creates the error recorded when a volatile subtree
// fails to persist during a flush pass. The subtree remains volatile.
func NewFlushFailedError(rootName string, cause error) *CacheError {
	return NewCacheError(cause, ErrorCodeCacheFlushFailed, "failed to flush volatile subtree").
		WithNodeName(rootName).
		WithOperation("Flush")
}

// NewInvariantViolationError creates the error raised when a cache
// invariant check fails (volatile-ancestors-resident, pin monotonicity).
func NewInvariantViolationError(operation, nodeName string) *CacheError {
	return NewCacheError(nil, ErrorCodeCacheInvariant, "cache invariant violated").
		WithOperation(operation).
		WithNodeName(nodeName)
}

// NewEvictionFailedError creates the error raised when eviction cannot
// make progress because every cold-set entry is pinned or volatile.
func NewEvictionFailedError(residentCount int) *CacheError {
	return NewCacheError(nil, ErrorCodeCacheEvictionFailed, "no evictable node available").
		WithOperation("Evict").
		WithResidentCount(residentCount)
}

package errors

// SchemaError provides specialized error handling for the segment/page
// layer. This structure extends the base error system with schema-specific
// context while properly supporting method chaining through all base error
// methods, the same pattern StorageError and ValidationError follow.
type SchemaError struct {
	// Embed the base error to inherit all standard error functionality
	// including error chaining, structured details, and error codes.
	*baseError

	// key identifies which child name was being looked up, inserted,
	// updated, or deleted when the error occurred.
	key string

	// segmentAddress is the global (page_index, segment_index) address of
	// the segment involved, encoded as a packed 64-bit value.
	segmentAddress int64

	// pageIndex identifies which page the segment lives on, if known
	// independently of segmentAddress (e.g. while still resolving it).
	pageIndex uint64

	// operation describes what was being attempted (Insert, Lookup,
	// Update, Delete, Split, Transplant, Chain, ReadChild, WriteNode, ...).
	operation string
}

// NewSchemaError creates a new schema-specific error with the provided context.
func NewSchemaError(err error, code ErrorCode, msg string) *SchemaError {
	return &SchemaError{baseError: NewBaseError(err, code, msg)}
}

// Override base error methods to return *SchemaError instead of *baseError.

// WithMessage updates the error message while maintaining the SchemaError type.
func (se *SchemaError) WithMessage(msg string) *SchemaError {
	se.baseError.WithMessage(msg)
	return se
}

// WithCode sets the error code while preserving the SchemaError type.
func (se *SchemaError) WithCode(code ErrorCode) *SchemaError {
	se.baseError.WithCode(code)
	return se
}

// WithDetail adds contextual information while maintaining the SchemaError type.
func (se *SchemaError) WithDetail(key string, value any) *SchemaError {
	se.baseError.WithDetail(key, value)
	return se
}

// WithKey records which child name was involved in the error.
func (se *SchemaError) WithKey(key string) *SchemaError {
	se.key = key
	return se
}

// WithSegmentAddress records the packed segment address involved.
func (se *SchemaError) WithSegmentAddress(addr int64) *SchemaError {
	se.segmentAddress = addr
	return se
}

// WithPageIndex records which page was involved.
func (se *SchemaError) WithPageIndex(pageIndex uint64) *SchemaError {
	se.pageIndex = pageIndex
	return se
}

// WithOperation records what operation was being performed.
func (se *SchemaError) WithOperation(operation string) *SchemaError {
	se.operation = operation
	return se
}

// Key returns the child name that was being processed.
func (se *SchemaError) Key() string { return se.key }

// SegmentAddress returns the packed segment address involved in the error.
func (se *SchemaError) SegmentAddress() int64 { return se.segmentAddress }

// PageIndex returns the page index involved in the error.
func (se *SchemaError) PageIndex() uint64 { return se.pageIndex }

// Operation returns the name of the operation that was being performed.
func (se *SchemaError) Operation() string { return se.operation }

// NewDuplicateError creates the error returned by Segment.Insert when the
// key already has an entry in the offset table.
func NewDuplicateError(key string) *SchemaError {
	return NewSchemaError(nil, ErrorCodeDuplicate, "key already exists in segment").
		WithKey(key).
		WithOperation("Insert")
}

// NewNotFoundError creates the error returned by Segment.Update/Delete when
// the key has no entry in the offset table.
func NewNotFoundError(key, operation string) *SchemaError {
	return NewSchemaError(nil, ErrorCodeNotFound, "key not found in segment").
		WithKey(key).
		WithOperation(operation)
}

// NewOverflowError creates the error a segment operation returns when there
// is no contiguous free space left for the record.
func NewOverflowError(key, operation string, required, free int) *SchemaError {
	return NewSchemaError(nil, ErrorCodeOverflow, "segment has insufficient free space").
		WithKey(key).
		WithOperation(operation).
		WithDetail("requiredBytes", required).
		WithDetail("freeBytes", free)
}

// NewColossalError creates the error returned when a single record exceeds
// the maximum segment size class and can never be made to fit by growth.
func NewColossalError(key string, recordSize, maxCapacity int) *SchemaError {
	return NewSchemaError(nil, ErrorCodeColossal, "record exceeds maximum segment capacity").
		WithKey(key).
		WithOperation("Insert").
		WithDetail("recordSize", recordSize).
		WithDetail("maxCapacity", maxCapacity)
}

// NewCorruptError creates the error returned when a page or segment header
// violates a layout invariant (bad length, offset out of range, impossible
// flags). The caller should treat the page as poisoned.
func NewCorruptError(operation string, reason string, cause error) *SchemaError {
	return NewSchemaError(cause, ErrorCodeCorrupt, "schema file invariant violated: "+reason).
		WithOperation(operation)
}

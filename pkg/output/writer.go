package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer outputs JSONL records for batch commands.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits a complete record as a single line
// of JSON followed by a newline.
type Writer interface {
	WriteSlot(ctx context.Context, rec *SlotRecord) error
	WritePreview(ctx context.Context, rec *PreviewRecord) error
	WriteIndex(ctx context.Context, rec *IndexRecord) error
	WriteCheck(ctx context.Context, rec *CheckRecord) error
	WriteError(ctx context.Context, rec *ErrorRecord) error
	WriteSummary(ctx context.Context, rec *SummaryRecord) error

	// Close marks the writer closed. The underlying io.Writer is left open.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// Writes are serialized with a mutex so lines never interleave.
type JSONLWriter struct {
	w            io.Writer
	invocationID string
	store        string
	now          func() time.Time
	mu           sync.Mutex
	closed       bool
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - invocationID: Correlation ID for this CLI invocation
//   - store: Storage backend identifier (e.g., "s3")
func NewJSONLWriter(w io.Writer, invocationID, store string) *JSONLWriter {
	return &JSONLWriter{
		w:            w,
		invocationID: invocationID,
		store:        store,
		now:          time.Now,
	}
}

func (jw *JSONLWriter) WriteSlot(ctx context.Context, rec *SlotRecord) error {
	return jw.writeRecord(ctx, TypeSlot, rec)
}

func (jw *JSONLWriter) WritePreview(ctx context.Context, rec *PreviewRecord) error {
	return jw.writeRecord(ctx, TypePreview, rec)
}

func (jw *JSONLWriter) WriteIndex(ctx context.Context, rec *IndexRecord) error {
	return jw.writeRecord(ctx, TypeIndex, rec)
}

func (jw *JSONLWriter) WriteCheck(ctx context.Context, rec *CheckRecord) error {
	return jw.writeRecord(ctx, TypeCheck, rec)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, rec)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, rec *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, rec)
}

func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line while
// holding the mutex.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		Type:         recordType,
		TS:           jw.now().UTC(),
		InvocationID: jw.invocationID,
		Store:        jw.store,
		Data:         dataBytes,
	}
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll writes all bytes to w, looping over short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)

package engine

import "fmt"

// ConnectivityError indicates the source or target could not be reached
// or dropped the connection mid-operation.
type ConnectivityError struct {
	Endpoint string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity: %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// SchemaError indicates table metadata could not be read, mapped or
// applied to the target.
type SchemaError struct {
	Table string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error on %s: %v", e.Table, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// PartialWriteError reports a table write that failed after one or more
// batches had already committed. Committed batches stay; replaying them
// on the next run is a no-op because batch application is idempotent.
type PartialWriteError struct {
	Table       string
	RowsWritten int64
	Err         error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write on %s: %d rows committed before failure: %v", e.Table, e.RowsWritten, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// AuditMismatch reports a source/target row count disagreement beyond
// the configured tolerance.
type AuditMismatch struct {
	Table      string
	SourceRows int64
	TargetRows int64
}

func (e *AuditMismatch) Error() string {
	return fmt.Sprintf("audit mismatch on %s: source=%d target=%d (delta %+d)",
		e.Table, e.SourceRows, e.TargetRows, e.TargetRows-e.SourceRows)
}

// Delta returns target minus source.
func (e *AuditMismatch) Delta() int64 {
	return e.TargetRows - e.SourceRows
}

// ConfigurationError reports an invalid configuration value detected at
// sync time rather than load time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

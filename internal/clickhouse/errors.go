package clickhouse

import (
	"errors"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Server exception codes an insert can hit while the server is overloaded or
// briefly unreachable; repeating the insert may succeed
var transientCodes = map[int32]string{
	159: "TIMEOUT_EXCEEDED",
	202: "TOO_MANY_SIMULTANEOUS_QUERIES",
	209: "SOCKET_TIMEOUT",
	210: "NETWORK_ERROR",
	241: "MEMORY_LIMIT_EXCEEDED",
	242: "TABLE_IS_READ_ONLY",
	252: "TOO_MANY_PARTS",
	425: "SYSTEM_ERROR",
}

// ExceptionError is a server exception classified for retry
type ExceptionError struct {
	Exception *clickhouse.Exception
}

func (e *ExceptionError) Error() string { return e.Exception.Error() }

func (e *ExceptionError) Unwrap() error { return e.Exception }

// Retryable reports whether the exception code is transient
func (e *ExceptionError) Retryable() bool {
	_, ok := transientCodes[e.Exception.Code]
	return ok
}

// Classify wraps a server exception in err so retry can tell transient codes
// from permanent ones. Other errors are returned unchanged.
func Classify(err error) error {
	var ex *clickhouse.Exception
	if err == nil || !errors.As(err, &ex) {
		return err
	}
	return &ExceptionError{Exception: ex}
}

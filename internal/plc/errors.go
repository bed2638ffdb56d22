package plc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrConnection reports that the PLC is unreachable. Any error satisfying
// errors.Is(err, ErrConnection) leaves the state of outputs unknown.
var ErrConnection = errors.New("plc connection fault")

// ErrUnsupported is returned by Bus management calls when the link has no
// Admin implementation.
var ErrUnsupported = errors.New("plc: operation not supported by link")

// IOError is a single failed operation on an otherwise healthy connection.
type IOError struct {
	Op     string
	Area   Area
	Block  int
	Offset int
	Err    error
}

func (e *IOError) Error() string {
	if e.Area == AreaDB {
		return fmt.Sprintf("plc %s DB%d.%d: %v", e.Op, e.Block, e.Offset, e.Err)
	}
	return fmt.Sprintf("plc %s %s%d: %v", e.Op, e.Area, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsConnectionFault reports whether err means the link itself is down.
func IsConnectionFault(err error) bool {
	return errors.Is(err, ErrConnection)
}

type connError struct {
	op  string
	err error
}

func (e *connError) Error() string   { return fmt.Sprintf("plc %s: %v: %v", e.op, ErrConnection, e.err) }
func (e *connError) Unwrap() []error { return []error{ErrConnection, e.err} }

// classify wraps a raw client error as either a connection fault or an
// IOError for the given operation.
func classify(err error, op string, area Area, block, offset int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConnection) {
		return err
	}
	if isNetworkError(err) {
		return &connError{op: op, err: err}
	}
	return &IOError{Op: op, Area: area, Block: block, Offset: offset, Err: err}
}

func isNetworkError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	// The S7 client reports some transport failures only as text.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timed out") || strings.Contains(msg, "connection")
}

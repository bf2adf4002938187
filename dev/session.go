package dev

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const readChunkSize = 4096

type hasPrintf interface {
	Printf(fmt string, v ...interface{})
}

type hasTimeout interface {
	Timeout() bool
}

// TimeoutError reports an expected literal that did not show up in time.
// A silent device and a device answering with unexpected text both end here;
// LastLine tells them apart for a human reader.
type TimeoutError struct {
	Pattern  string
	Timeout  time.Duration
	Received int    // bytes received while waiting
	LastLine string // last received line, control chars removed
}

func (e *TimeoutError) Error() string {
	if e.Received == 0 {
		return fmt.Sprintf("timed out after %s waiting for %q: no data received", e.Timeout, e.Pattern)
	}
	return fmt.Sprintf("timed out after %s waiting for %q: last line: [%s]", e.Timeout, e.Pattern, e.LastLine)
}

// TransportError wraps a socket-level failure, detail kept verbatim.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err, possibly wrapped, is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Session is one open connection to one device.
// Bytes received after a matched pattern stay buffered for the next ReadUntil.
type Session struct {
	label     string
	logger    hasPrintf
	debug     bool
	conn      transp
	transport string
	timeout   time.Duration
	buf       []byte
	closeOnce sync.Once
}

// Open connects to address:port. The timeout bounds connection establishment
// and every later write. Cancelling ctx aborts a pending connect.
func Open(ctx context.Context, logger hasPrintf, address string, port int, transports, user, pass string, timeout time.Duration, debug bool) (*Session, error) {
	label := fmt.Sprintf("device %s", address)

	conn, transport, err := openTransport(ctx, logger, label, address, port, transports, user, pass, timeout)
	if err != nil {
		return nil, &TransportError{Op: "open", Err: err}
	}

	s := &Session{
		label:     label,
		logger:    logger,
		debug:     debug,
		conn:      conn,
		transport: transport,
		timeout:   timeout,
	}

	return s, nil
}

// Transport names the transport actually connected.
func (s *Session) Transport() string {
	return s.transport
}

func (s *Session) logf(format string, v ...interface{}) {
	s.logger.Printf(s.label+": "+format, v...)
}

// ReadUntil returns every byte received up to and including the first
// occurrence of pattern. On timeout the partial data is discarded.
func (s *Session) ReadUntil(pattern string, timeout time.Duration) ([]byte, error) {
	p := []byte(pattern)

	if i := bytes.Index(s.buf, p); i >= 0 {
		return s.consume(i + len(p)), nil
	}

	if err := s.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("could not set deadline: %v", err)}
	}

	received := 0
	chunk := make([]byte, readChunkSize)

	for {
		n, readErr := s.conn.Read(chunk)

		if n > 0 {
			received += n
			if s.debug {
				s.logf("debug recv: [%q]", chunk[:n])
			}

			// a new match can start at most len(p)-1 bytes before the new data
			from := len(s.buf) - len(p) + 1
			if from < 0 {
				from = 0
			}
			s.buf = append(s.buf, chunk[:n]...)

			if i := bytes.Index(s.buf[from:], p); i >= 0 {
				return s.consume(from + i + len(p)), nil
			}
		}

		if readErr == nil {
			continue
		}

		lastLine := diagnosticLine(s.buf)
		s.buf = nil

		if te, ok := readErr.(hasTimeout); ok && te.Timeout() {
			return nil, &TimeoutError{Pattern: pattern, Timeout: timeout, Received: received, LastLine: lastLine}
		}

		return nil, &TransportError{Op: "read", Err: readErr}
	}
}

func (s *Session) consume(end int) []byte {
	out := make([]byte, end)
	copy(out, s.buf[:end])
	s.buf = append(s.buf[:0], s.buf[end:]...)
	return out
}

// Write sends b as is: no line terminator is added.
func (s *Session) Write(b []byte) error {
	if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return &TransportError{Op: "write", Err: fmt.Errorf("could not set deadline: %v", err)}
	}

	if _, err := s.conn.Write(b); err != nil {
		return &TransportError{Op: "write", Err: err}
	}

	return nil
}

// Close is idempotent and safe to call from another goroutine,
// which unblocks a pending ReadUntil.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil && s.debug {
			s.logf("debug close: %v", err)
		}
	})
}

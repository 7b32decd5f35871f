package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
)

// LineFunc receives one newline-delimited record with the line ending removed.
// Returning an error stops the read loop and is handed back to the caller.
type LineFunc func(line []byte) error

// ReadLines consumes r one record at a time until end of input. A trailing
// record without a newline is still delivered; blank records are skipped.
// End of input (including a closed pipe) is not an error.
func ReadLines(r io.Reader, fn LineFunc) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimRight(line, "\r\n"); len(bytes.TrimSpace(trimmed)) > 0 {
			if cbErr := fn(trimmed); cbErr != nil {
				return &CallbackError{Err: cbErr}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// CallbackError distinguishes a failure returned by the LineFunc from a read
// failure on the underlying stream.
type CallbackError struct {
	Err error
}

func (e *CallbackError) Error() string { return e.Err.Error() }

func (e *CallbackError) Unwrap() error { return e.Err }

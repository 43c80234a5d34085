package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Encoder writes newline-delimited JSON frames, grounded directly on the
// teacher's protocol.Encoder (pkg/micro_runner/protocol/codec.go): marshal,
// write, newline, flush.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode marshals v as one newline-terminated JSON line and flushes it
// immediately, so a terminal frame is never left buffered behind a
// progress frame.
func (e *Encoder) Encode(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if _, err := e.w.Write(b); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return e.w.Flush()
}

// Decoder reads newline-delimited JSON frames bounded by MaxMessageBytes,
// grounded on the teacher's protocol.Decoder 10MB-buffer bufio.Scanner.
type Decoder struct {
	s *bufio.Scanner
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxMessageBytes)
	scanner.Buffer(buf, MaxMessageBytes)
	return &Decoder{s: scanner}
}

// DecodeCommand reads the next line and unmarshals it as a Command.
func (d *Decoder) DecodeCommand() (*Command, error) {
	if !d.s.Scan() {
		if err := d.s.Err(); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		return nil, io.EOF
	}

	line := d.s.Bytes()
	if len(line) == 0 {
		return nil, fmt.Errorf("empty line")
	}

	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal command: %w", err)
	}
	return &cmd, nil
}

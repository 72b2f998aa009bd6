// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture stores raw CAN traffic as a CBOR sequence so a session
// can be replayed through the decoder later.
//
// A capture file is one Header item followed by any number of Record items.
// Both use integer map keys.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

// Format identifiers written in the header
const (
	FormatName    = "sbsmon-capture"
	FormatVersion = 1
)

var ErrBadHeader = errors.New("capture: not a capture file")

// Header describes a capture
type Header struct {
	Format  string    `cbor:"1,keyasint"`
	Version uint      `cbor:"2,keyasint"`
	Created time.Time `cbor:"3,keyasint"`
	Source  string    `cbor:"4,keyasint,omitempty"`
}

// Record is one captured frame
type Record struct {
	Time     time.Time `cbor:"1,keyasint"`
	ID       uint32    `cbor:"2,keyasint"`
	Extended bool      `cbor:"3,keyasint,omitempty"`
	Data     []byte    `cbor:"4,keyasint"`
}

// Frame converts the record back into a frame
func (r Record) Frame() (sbs.Frame, error) {
	if len(r.Data) > sbs.MaxDataLen {
		return sbs.Frame{}, fmt.Errorf("capture: %w: %d bytes", sbs.ErrInvalidLen, len(r.Data))
	}
	f := sbs.Frame{ID: r.ID, Extended: r.Extended, Len: uint8(len(r.Data))}
	copy(f.Data[:], r.Data)
	if err := f.Validate(); err != nil {
		return sbs.Frame{}, fmt.Errorf("capture: %w", err)
	}
	return f, nil
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

// Writer appends records to a capture
type Writer struct {
	buf    *bufio.Writer
	enc    *cbor.Encoder
	closer io.Closer
	count  uint64
}

// Create creates (or truncates) a capture file and writes its header
func Create(path, source string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture %s: %w", path, err)
	}
	w, err := NewWriter(f, source)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter writes a header to w and returns a Writer for the records
func NewWriter(w io.Writer, source string) (*Writer, error) {
	buf := bufio.NewWriter(w)
	cw := &Writer{buf: buf, enc: encMode.NewEncoder(buf)}
	h := Header{
		Format:  FormatName,
		Version: FormatVersion,
		Created: time.Now().UTC(),
		Source:  source,
	}
	if err := cw.enc.Encode(h); err != nil {
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}
	return cw, nil
}

// Write appends one frame
func (w *Writer) Write(at time.Time, f sbs.Frame) error {
	rec := Record{
		Time:     at,
		ID:       f.ID,
		Extended: f.Extended,
		Data:     append([]byte(nil), f.Payload()...),
	}
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to write capture record: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written
func (w *Writer) Count() uint64 {
	return w.count
}

// Flush writes buffered records to the underlying writer
func (w *Writer) Flush() error {
	return w.buf.Flush()
}

// Close flushes and closes the file opened by Create
func (w *Writer) Close() error {
	err := w.buf.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader iterates over the records of a capture
type Reader struct {
	Header Header

	dec    *cbor.Decoder
	closer io.Closer
}

// Open opens a capture file and reads its header
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads and validates the header from r
func NewReader(r io.Reader) (*Reader, error) {
	cr := &Reader{dec: cbor.NewDecoder(bufio.NewReader(r))}
	if err := cr.dec.Decode(&cr.Header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if cr.Header.Format != FormatName {
		return nil, fmt.Errorf("%w: format %q", ErrBadHeader, cr.Header.Format)
	}
	if cr.Header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, cr.Header.Version)
	}
	return cr, nil
}

// Next returns the next record, or io.EOF at the end of the capture
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read capture record: %w", err)
	}
	return rec, nil
}

// Close closes the file opened by Open
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

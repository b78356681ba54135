// Package eventlog encodes and decodes message records as a
// length-prefixed, self-describing binary stream, using msgp's low-level
// Writer/Reader directly rather than generated (de)serializers: each
// record is small and fixed-shape enough that hand-writing the five
// fields is simpler than maintaining a code-gen step for one struct.
package eventlog

import (
	"io"

	"github.com/tinylib/msgp/msgp"
)

// Record is one transmitted or received message, timestamped to the
// timestep it crossed the router.
type Record struct {
	Timestep   uint64
	IsOutbound bool
	PID        int
	Channel    int
	Data       []byte
}

// Writer appends Records to an underlying stream as a MessagePack array
// per record: [timestep, is_outbound, pid, channel, data].
type Writer struct {
	w *msgp.Writer
}

// NewWriter wraps w for event logging. Callers must Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: msgp.NewWriter(w)}
}

// Write appends one record.
func (ew *Writer) Write(rec Record) error {
	if err := ew.w.WriteArrayHeader(5); err != nil {
		return err
	}
	if err := ew.w.WriteUint64(rec.Timestep); err != nil {
		return err
	}
	if err := ew.w.WriteBool(rec.IsOutbound); err != nil {
		return err
	}
	if err := ew.w.WriteInt(rec.PID); err != nil {
		return err
	}
	if err := ew.w.WriteInt(rec.Channel); err != nil {
		return err
	}
	return ew.w.WriteBytes(rec.Data)
}

// Flush ensures every buffered record has reached the underlying writer.
func (ew *Writer) Flush() error {
	return ew.w.Flush()
}

// Reader reads Records back out of a stream written by Writer.
type Reader struct {
	r *msgp.Reader
}

// NewReader wraps r for event log replay.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: msgp.NewReader(r)}
}

// Read returns the next record, or io.EOF once the stream is exhausted.
func (er *Reader) Read() (Record, error) {
	n, err := er.r.ReadArrayHeader()
	if err != nil {
		return Record{}, err
	}
	if n != 5 {
		return Record{}, msgp.ArrayError{Wanted: 5, Got: uint32(n)}
	}
	var rec Record
	if rec.Timestep, err = er.r.ReadUint64(); err != nil {
		return Record{}, err
	}
	if rec.IsOutbound, err = er.r.ReadBool(); err != nil {
		return Record{}, err
	}
	if rec.PID, err = er.r.ReadInt(); err != nil {
		return Record{}, err
	}
	if rec.Channel, err = er.r.ReadInt(); err != nil {
		return Record{}, err
	}
	if rec.Data, err = er.r.ReadBytes(nil); err != nil {
		return Record{}, err
	}
	return rec, nil
}

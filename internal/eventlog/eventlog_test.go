package eventlog

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	records := []Record{
		{Timestep: 0, IsOutbound: true, PID: 1, Channel: 2, Data: []byte("hello")},
		{Timestep: 3, IsOutbound: false, PID: 5, Channel: 2, Data: nil},
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(&buf)
	for i, want := range records {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read record %d: %v", i, err)
		}
		if got.Timestep != want.Timestep || got.IsOutbound != want.IsOutbound ||
			got.PID != want.PID || got.Channel != want.Channel || !bytes.Equal(got.Data, want.Data) {
			t.Fatalf("record %d = %+v, want %+v", i, got, want)
		}
	}
	if _, err := r.Read(); err != io.EOF {
		t.Fatalf("expected io.EOF after last record, got %v", err)
	}
}

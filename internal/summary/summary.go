// Package summary renders a run's event log to CSV. This is the one
// place the module reaches for the standard library over a third-party
// dependency: encoding/csv already implements RFC 4180 quoting correctly
// and none of the pack's dependencies offer anything beyond that.
package summary

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/nexussim/nexus/internal/eventlog"
)

var header = []string{"timestep", "direction", "pid", "channel", "bytes"}

// WriteCSV reads every record from records and writes one CSV row per record to
// w, until the stream is exhausted.
func WriteCSV(w io.Writer, records <-chan eventlog.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for rec := range records {
		direction := "rx"
		if rec.IsOutbound {
			direction = "tx"
		}
		row := []string{
			strconv.FormatUint(rec.Timestep, 10),
			direction,
			strconv.Itoa(rec.PID),
			strconv.Itoa(rec.Channel),
			strconv.Itoa(len(rec.Data)),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Drain reads every record from r via an eventlog.Reader and feeds them to
// WriteCSV, closing the channel when the log is exhausted or errors.
func Drain(r *eventlog.Reader) <-chan eventlog.Record {
	out := make(chan eventlog.Record)
	go func() {
		defer close(out)
		for {
			rec, err := r.Read()
			if err != nil {
				return
			}
			out <- rec
		}
	}()
	return out
}

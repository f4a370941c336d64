// Package export writes call records as CSV or JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/ogulcanaydogan/costwatch/pkg/model"
)

// Format is an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json" in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format %q (want csv or json)", s)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Header is the CSV header row, one column per CallRecord field.
var Header = []string{
	"id", "timestamp", "agent", "model", "tier",
	"input_tokens", "output_tokens", "cost_usd",
	"duration_seconds", "success", "task_id", "correlation_id",
}

func row(r model.CallRecord) []string {
	return []string{
		r.ID,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Agent,
		r.Model,
		string(r.Tier),
		strconv.FormatInt(r.InputTokens, 10),
		strconv.FormatInt(r.OutputTokens, 10),
		r.CostUSD.String(),
		strconv.FormatFloat(r.DurationSeconds, 'f', -1, 64),
		strconv.FormatBool(r.Success),
		r.TaskID,
		r.CorrelationID,
	}
}

// Write streams records to w in the given format and returns how many
// were written. A read error from records aborts the export.
func Write(w io.Writer, f Format, records iter.Seq2[model.CallRecord, error]) (int, error) {
	switch f {
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatJSON:
		return WriteJSON(w, records)
	}
	return 0, fmt.Errorf("unsupported export format %q", f)
}

// WriteCSV writes a header row then one row per record. Costs are plain
// decimals, never exponent notation.
func WriteCSV(w io.Writer, records iter.Seq2[model.CallRecord, error]) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	n := 0
	for r, err := range records {
		if err != nil {
			cw.Flush()
			return n, err
		}
		if err := cw.Write(row(r)); err != nil {
			return n, fmt.Errorf("write csv row: %w", err)
		}
		n++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flush csv: %w", err)
	}
	return n, nil
}

// WriteJSON writes a JSON array with one object per record. Costs are
// encoded as decimal strings.
func WriteJSON(w io.Writer, records iter.Seq2[model.CallRecord, error]) (int, error) {
	if _, err := io.WriteString(w, "["); err != nil {
		return 0, err
	}

	n := 0
	for r, err := range records {
		if err != nil {
			return n, err
		}
		b, err := json.Marshal(r)
		if err != nil {
			return n, fmt.Errorf("marshal record %s: %w", r.ID, err)
		}
		sep := ",\n  "
		if n == 0 {
			sep = "\n  "
		}
		if _, err := io.WriteString(w, sep); err != nil {
			return n, err
		}
		if _, err := w.Write(b); err != nil {
			return n, err
		}
		n++
	}

	closing := "]\n"
	if n > 0 {
		closing = "\n]\n"
	}
	_, err := io.WriteString(w, closing)
	return n, err
}

// Package cli provides output helpers for the cvpost command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/cvpost/internal/models"
	"github.com/hyperjump/cvpost/internal/session"
	"github.com/hyperjump/cvpost/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a -output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("invalid output format %q (use text or json)", s)
	}
}

// WriteOutcome writes the result of one upload attempt.
func WriteOutcome(w io.Writer, snap session.Snapshot, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, snap)
	}
	if !snap.Status.Terminal() {
		fmt.Fprintf(w, "Session %s\n", snap.Status)
		return nil
	}
	if snap.Status == session.Failed {
		fmt.Fprintf(w, "Upload failed: %s\n", snap.ErrorMessage)
		return nil
	}
	fmt.Fprintf(w, "Uploaded %s (%d characters)\n", snap.FileName, len(snap.ExtractedText))
	fmt.Fprintln(w, "\n--- Extracted text ---")
	fmt.Fprintln(w, strings.TrimRight(snap.ExtractedText, "\n"))
	return nil
}

type extraction struct {
	FileName string `json:"file_name"`
	Text     string `json:"text"`
	Chars    int    `json:"chars"`
}

// WriteExtraction writes text extracted from name without submitting it.
func WriteExtraction(w io.Writer, name, text string, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, extraction{FileName: name, Text: text, Chars: len(text)})
	}
	_, err := io.WriteString(w, text)
	return err
}

// WriteAttempts writes attempt history, newest first.
func WriteAttempts(w io.Writer, attempts []*models.Attempt, format OutputFormat) error {
	if format == OutputJSON {
		if attempts == nil {
			attempts = []*models.Attempt{}
		}
		return writeJSON(w, map[string]interface{}{"attempts": attempts})
	}
	if len(attempts) == 0 {
		fmt.Fprintln(w, "No upload attempts recorded.")
		return nil
	}
	for _, a := range attempts {
		fmt.Fprintf(w, "%s  %-9s  %-4s  %s", a.FinishedAt.Local().Format(time.DateTime), a.Status, a.Kind, a.FileName)
		if a.ErrorMessage != "" {
			fmt.Fprintf(w, "  (%s)", utils.Truncate(a.ErrorMessage, 80))
		}
		fmt.Fprintln(w)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Status is the shape of GET /api/v1/status.
type Status struct {
	Session        string                 `json:"session"`
	Attempts       map[string]int64       `json:"attempts,omitempty"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

// WriteStatus writes server status.
func WriteStatus(w io.Writer, st *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "session:            %s\n", st.Session)
	if st.Attempts != nil {
		fmt.Fprintf(w, "attempts:           %d   # %d succeeded, %d failed\n",
			st.Attempts["total"], st.Attempts["succeeded"], st.Attempts["failed"])
	}
	if st.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage:         %s\n", utils.HumanBytes(*st.DiskUsageBytes))
	}
	if len(st.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		keys := make([]string, 0, len(st.Config))
		for k := range st.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%-19s %v\n", k+":", st.Config[k])
		}
	}
	return nil
}

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format selects how a report is rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatNone Format = "none"
)

// ParseFormat accepts text, table, json, yaml and none.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return FormatNone, nil
	case "text", "table":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown report format %q (want text, json, yaml or none)", s)
}

// Write renders r to w.
func Write(w io.Writer, format Format, r *Result) error {
	switch format {
	case FormatNone:
		return nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatText:
		return writeText(w, r)
	}
	return fmt.Errorf("unknown report format %q", format)
}

func writeText(w io.Writer, r *Result) error {
	fmt.Fprintf(w, "Job:       %s/%s/%s\n", r.Team, r.Group, r.Job)
	fmt.Fprintf(w, "Execution: %s\n", r.ExecutionID)
	if r.Command != "" {
		fmt.Fprintf(w, "Command:   %s\n", r.Command)
	}
	fmt.Fprintf(w, "Exit code: %d\n", r.ExitCode)
	if r.Cause != "" {
		fmt.Fprintf(w, "Cause:     %s\n", r.Cause)
	}
	if r.Signal != "" {
		fmt.Fprintf(w, "Signal:    %s\n", r.Signal)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", r.Error)
	}
	fmt.Fprintf(w, "Duration:  %s\n", r.Duration.Round(timeRounding(r)))
	if r.Dry {
		fmt.Fprintln(w, "Dry run:   yes")
	}
	if len(r.Attempts) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	table := tablewriter.NewWriter(w)
	table.Header("Attempt", "PID", "Exit", "Cause", "Duration", "Truncated")
	for _, a := range r.Attempts {
		truncated := "No"
		if a.Truncated {
			truncated = "Yes"
		}
		table.Append(
			strconv.Itoa(a.Attempt),
			strconv.Itoa(a.PID),
			strconv.Itoa(a.ExitCode),
			string(a.Cause),
			a.Duration.Round(timeRounding(r)).String(),
			truncated,
		)
	}
	return table.Render()
}

func timeRounding(r *Result) time.Duration {
	if r.Duration < 10*time.Second {
		return time.Millisecond
	}
	return time.Second
}

// Package report formats an engine.Result as the -stats output the CLI
// writes (SPEC_FULL.md §6: "-stats -stats-format {text|json|csv}").
//
// Grounded on the teacher's vm/statistics.go: same three-format shape
// (String/ExportJSON/ExportCSV), minus the html branch, which the
// teacher serves as an interactive page — inapplicable to a CI tool
// whose only required output is the plain-text `output.log` verdict
// line (SPEC_FULL.md §6's own note dropping it).
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/lookbusy1344/sbrace/engine"
)

// Format is the closed set -stats-format accepts.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Write renders res in the requested format to w.
func Write(w io.Writer, res *engine.Result, format Format) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, res)
	case FormatCSV:
		return writeCSV(w, res)
	case FormatText, "":
		_, err := io.WriteString(w, String(res))
		return err
	default:
		return fmt.Errorf("unknown stats format %q", format)
	}
}

// String renders res the way the teacher's PerformanceStatistics.String
// renders a run summary: a short, human-readable block.
func String(res *engine.Result) string {
	var sb strings.Builder

	sb.WriteString("Exploration Statistics\n")
	sb.WriteString("=======================\n\n")

	sb.WriteString(fmt.Sprintf("Property:           %s\n", res.Property))
	sb.WriteString(fmt.Sprintf("Violated:           %t\n", res.Violated))
	sb.WriteString(fmt.Sprintf("Inconclusive:       %t\n", res.Inconclusive))
	if res.Reason != "" {
		sb.WriteString(fmt.Sprintf("Reason:             %s\n", res.Reason))
	}
	sb.WriteString(fmt.Sprintf("Exit code:          %d\n\n", res.ExitCode()))

	sb.WriteString(fmt.Sprintf("Traces explored:    %d\n", res.TracesExplored))
	sb.WriteString(fmt.Sprintf("Racist edges seen:  %d\n", res.RacistEdgesSeen))
	sb.WriteString(fmt.Sprintf("Max backtrack size: %d\n", res.MaxBacktrackSize))
	sb.WriteString(fmt.Sprintf("Elapsed:            %v\n", res.Elapsed))

	return sb.String()
}

func writeJSON(w io.Writer, res *engine.Result) error {
	data := map[string]any{
		"property":            res.Property,
		"violated":            res.Violated,
		"inconclusive":        res.Inconclusive,
		"reason":              res.Reason,
		"exit_code":           res.ExitCode(),
		"traces_explored":     res.TracesExplored,
		"racist_edges_seen":   res.RacistEdgesSeen,
		"max_backtrack_size":  res.MaxBacktrackSize,
		"elapsed_ms":          res.Elapsed.Milliseconds(),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func writeCSV(w io.Writer, res *engine.Result) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"Metric", "Value"}); err != nil {
		return err
	}
	rows := [][]string{
		{"Property", string(res.Property)},
		{"Violated", fmt.Sprintf("%t", res.Violated)},
		{"Inconclusive", fmt.Sprintf("%t", res.Inconclusive)},
		{"Reason", res.Reason},
		{"Exit code", fmt.Sprintf("%d", res.ExitCode())},
		{"Traces explored", fmt.Sprintf("%d", res.TracesExplored)},
		{"Racist edges seen", fmt.Sprintf("%d", res.RacistEdgesSeen)},
		{"Max backtrack size", fmt.Sprintf("%d", res.MaxBacktrackSize)},
		{"Elapsed ms", fmt.Sprintf("%d", res.Elapsed.Milliseconds())},
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

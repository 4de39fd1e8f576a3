package stats

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
)

// Column names of the report. The header text is consumed by existing
// spreadsheets and must not change.
const (
	ColumnLabel       = "Label"
	ColumnVoxels      = "Voxels"
	ColumnVolume      = "Volume cc"
	ColumnTotalCounts = "Total Counts"
	ColumnSPECTMean   = "SPECT Mean"
)

// DefaultColumns is the canonical column order
var DefaultColumns = []string{ColumnLabel, ColumnVoxels, ColumnVolume, ColumnTotalCounts, ColumnSPECTMean}

// ErrUnknownColumn is returned for a column name outside DefaultColumns
var ErrUnknownColumn = errors.New("unknown report column")

// SummaryMode selects how the grand total and computed mean are written
type SummaryMode string

const (
	// SummaryLabeled appends a row whose first cell is "Total"
	SummaryLabeled SummaryMode = "labeled"

	// SummaryLegacy appends the values in the Total Counts and SPECT Mean
	// slots of an otherwise empty row, as the stats table always showed them
	SummaryLegacy SummaryMode = "legacy"

	// SummaryNone writes region rows only
	SummaryNone SummaryMode = "none"
)

// ParseSummaryMode converts a configuration string to a SummaryMode
func ParseSummaryMode(s string) (SummaryMode, error) {
	switch mode := SummaryMode(strings.ToLower(s)); mode {
	case SummaryLabeled, SummaryLegacy, SummaryNone:
		return mode, nil
	case "":
		return SummaryLabeled, nil
	default:
		return "", fmt.Errorf("invalid summary mode %q", s)
	}
}

// CSVOptions controls FormatCSV
type CSVOptions struct {
	Summary SummaryMode

	// SkipEmpty drops regions without voxels or counts
	SkipEmpty bool
}

// FormatCSV renders report with quoted headers in the given column order
func FormatCSV(report *Report, columns []string, opts CSVOptions) (string, error) {
	if len(columns) == 0 {
		columns = DefaultColumns
	}
	for _, c := range columns {
		if !knownColumn(c) {
			return "", fmt.Errorf("%w: %q", ErrUnknownColumn, c)
		}
	}

	var b strings.Builder
	for i, c := range columns {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(c))
	}
	b.WriteByte('\n')

	for _, label := range report.Labels {
		row, ok := report.Row(label)
		if !ok {
			continue
		}
		if opts.SkipEmpty && row.Voxels == 0 && row.TotalCounts == 0 {
			continue
		}
		for i, c := range columns {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(cell(row, c))
		}
		b.WriteByte('\n')
	}

	switch opts.Summary {
	case SummaryNone:
	case SummaryLegacy:
		writeSummary(&b, columns, "", report)
	default:
		writeSummary(&b, columns, strconv.Quote("Total"), report)
	}
	return b.String(), nil
}

// writeSummary places the grand total and computed mean under their
// columns; the Label column receives first.
func writeSummary(b *strings.Builder, columns []string, first string, report *Report) {
	for i, c := range columns {
		if i > 0 {
			b.WriteByte(',')
		}
		switch c {
		case ColumnLabel:
			b.WriteString(first)
		case ColumnTotalCounts:
			b.WriteString(FormatCounts(report.TotalCounts))
		case ColumnSPECTMean:
			b.WriteString(FormatFixed(report.ComputedMean))
		}
	}
	b.WriteByte('\n')
}

// WriteCSV formats report and writes it to path
func WriteCSV(path string, report *Report, columns []string, opts CSVOptions) error {
	text, err := FormatCSV(report, columns, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("error writing stats file: %w", err)
	}
	return nil
}

// Table prints the report as an aligned text table with the summary
// values on a final row
func (r *Report) Table(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Region\t"+strings.Join(DefaultColumns, "\t")+"\t")
	for _, row := range r.Rows {
		fmt.Fprintf(tw, "%s\t", row.Name)
		for _, c := range DefaultColumns {
			fmt.Fprintf(tw, "%s\t", cell(row, c))
		}
		fmt.Fprintln(tw)
	}
	fmt.Fprintf(tw, "\t\t\t\t%s\t%s\t\n", FormatCounts(r.TotalCounts), FormatFixed(r.ComputedMean))
	return tw.Flush()
}

// FormatFixed formats v with three decimals
func FormatFixed(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// FormatCounts formats a count total without trailing zeros
func FormatCounts(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func cell(row Row, column string) string {
	switch column {
	case ColumnLabel:
		return strconv.Itoa(row.Label)
	case ColumnVoxels:
		return strconv.Itoa(row.Voxels)
	case ColumnVolume:
		return FormatFixed(row.VolumeCC)
	case ColumnTotalCounts:
		return FormatCounts(row.TotalCounts)
	case ColumnSPECTMean:
		return FormatFixed(row.SPECTMean)
	}
	return ""
}

func knownColumn(c string) bool {
	for _, k := range DefaultColumns {
		if k == c {
			return true
		}
	}
	return false
}

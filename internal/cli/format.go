package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// fatih/color disables colors itself when stdout is not a terminal, and
// color.Output is swapped in tests, so every printer writes through it.
var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	valueColor   = color.New(color.FgHiBlack)
	dimColor     = color.New(color.FgHiBlack)
)

// PrintSection prints a section header
func PrintSection(title string) {
	fmt.Fprintln(color.Output)
	_, _ = headerColor.Fprintf(color.Output, "▸ %s\n", title)
	fmt.Fprintln(color.Output)
}

// PrintSubsection prints a subsection header
func PrintSubsection(title string) {
	_, _ = infoColor.Fprintf(color.Output, "  %s\n", title)
}

// PrintSuccess prints a success message with a checkmark
func PrintSuccess(msg string) {
	_, _ = successColor.Fprintf(color.Output, "✓ %s\n", msg)
}

// PrintWarning prints a warning message with a warning symbol
func PrintWarning(msg string) {
	_, _ = warningColor.Fprintf(color.Output, "⚠ %s\n", msg)
}

// PrintLabelValue prints a label-value pair
func PrintLabelValue(label, value string) {
	PrintLabelValueWithColor(label, value, valueColor)
}

// PrintLabelValueWithColor prints a label-value pair with a custom value color
func PrintLabelValueWithColor(label, value string, valueClr *color.Color) {
	_, _ = labelColor.Fprintf(color.Output, "  %s: ", label)
	_, _ = valueClr.Fprintln(color.Output, value)
}

// PrintList prints items as a bulleted list
func PrintList(items []string, indent int) {
	indentStr := strings.Repeat("  ", indent)
	for _, item := range items {
		_, _ = infoColor.Fprintf(color.Output, "%s• %s\n", indentStr, item)
	}
}

// PrintTable prints rows under a header, each column padded to its widest cell.
func PrintTable(headers []string, rows [][]string) {
	if len(headers) == 0 || len(rows) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], len(row[i]))
		}
	}

	printRow := func(cells []string, clr *color.Color) {
		fmt.Fprint(color.Output, "  ")
		for i := 0; i < len(cells) && i < len(widths); i++ {
			if i > 0 {
				fmt.Fprint(color.Output, "  ")
			}
			// The last column is not padded.
			if i == len(widths)-1 {
				_, _ = clr.Fprint(color.Output, cells[i])
			} else {
				_, _ = clr.Fprintf(color.Output, "%-*s", widths[i], cells[i])
			}
		}
		fmt.Fprintln(color.Output)
	}

	printRow(headers, headerColor)
	rule := make([]string, len(widths))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}
	printRow(rule, dimColor)
	for _, row := range rows {
		printRow(row, valueColor)
	}
}

// PrintEmptyState prints a message when there's no data to show
func PrintEmptyState(msg string) {
	_, _ = dimColor.Fprintf(color.Output, "  %s\n", msg)
}

// PrintCount formats a count with the matching noun
func PrintCount(count int, singular, plural string) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, singular)
	}
	return fmt.Sprintf("%d %s", count, plural)
}

package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/danieljhkim/deltaserve/internal/repo"
)

// formatPlanOutput formats the plan result for display.
func formatPlanOutput(result *PlanResult) error {
	if planOps {
		return formatOperations(result)
	}
	if planNameStatus {
		return formatNameStatus(result)
	}
	return formatDefaultPlan(result)
}

// formatOperations outputs the editor operations one per line.
func formatOperations(result *PlanResult) error {
	for _, op := range result.Operations {
		_, _ = infoColor.Printf("%-17s", op.Type)
		path := op.Path
		if path == "" {
			path = "."
		}
		fmt.Print(path)
		if op.Rev > 0 {
			_, _ = dimColor.Printf(" @%d", op.Rev)
		}
		if op.Detail != "" {
			_, _ = dimColor.Printf("  %s", op.Detail)
		}
		fmt.Println()
	}
	return nil
}

// formatNameStatus outputs paths with status indicators (A, D, M, R).
func formatNameStatus(result *PlanResult) error {
	for _, entry := range result.Entries {
		statusChar := getStatusChar(entry.Status)
		_, _ = statusColor(entry.Status).Printf("%s\t%s\n", statusChar, displayPath(entry.Path))
	}
	return nil
}

// formatDefaultPlan outputs every change, unified patches when requested,
// and a summary line.
func formatDefaultPlan(result *PlanResult) error {

	// Compact header: target and revision on one line
	fmt.Println()
	_, _ = dimColor.Printf("  target: ")
	_, _ = infoColor.Printf("/%s", result.TargetPath)
	_, _ = dimColor.Printf("  revision: ")
	_, _ = infoColor.Printf("r%d\n", result.TargetRev)

	if len(result.Entries) == 0 {
		fmt.Println()
		PrintEmptyState("Working copy is up to date")
		return nil
	}

	insertions := 0
	deletions := 0

	for _, entry := range result.Entries {
		fmt.Println()
		printPlanEntryHeader(entry)

		for _, prop := range entry.Props {
			_, _ = dimColor.Printf("    prop ")
			fmt.Println(prop)
		}
		if entry.UnifiedDiff != "" {
			printUnifiedDiff(entry.UnifiedDiff)
		}

		insertions += entry.Additions
		deletions += entry.Deletions
	}

	// Color-coded summary line
	st := result.Stats
	fmt.Println()
	_, _ = dimColor.Print("  ")
	fmt.Printf("%d path%s changed", len(result.Entries), plural(len(result.Entries)))
	if st.Adds > 0 {
		_, _ = successColor.Printf(", %d added", st.Adds)
	}
	if st.Deletes > 0 {
		_, _ = errorColor.Printf(", %d deleted", st.Deletes)
	}
	if insertions > 0 {
		_, _ = successColor.Printf(", %d insertion%s(+)", insertions, plural(insertions))
	}
	if deletions > 0 {
		_, _ = errorColor.Printf(", %d deletion%s(-)", deletions, plural(deletions))
	}
	if st.NewBytes > 0 {
		_, _ = dimColor.Printf(", %d new bytes", st.NewBytes)
	}
	fmt.Println()

	return nil
}

// getStatusChar returns the single-character status indicator.
func getStatusChar(status string) string {
	switch status {
	case statusModified:
		return "M"
	case statusAdded:
		return "A"
	case statusRemoved:
		return "D"
	case statusReplaced:
		return "R"
	default:
		return "?"
	}
}

func statusColor(status string) *color.Color {
	switch status {
	case statusAdded:
		return successColor
	case statusRemoved:
		return errorColor
	case statusModified, statusReplaced:
		return warningColor
	default:
		return dimColor
	}
}

func displayPath(p string) string {
	if p == "" {
		return "."
	}
	return p
}

func plural(count int) string {
	if count == 1 {
		return ""
	}
	return "s"
}

func printPlanEntryHeader(entry *PlanEntry) {
	// Status badge + path + stats
	_, _ = statusColor(entry.Status).Printf("  %s ", getStatusChar(entry.Status))
	name := displayPath(entry.Path)
	if entry.Kind == repo.KindDir {
		name += "/"
	}
	_, _ = headerColor.Printf("%s", name)
	if entry.CopyFrom != nil {
		_, _ = dimColor.Printf("  (from %s@%d)", entry.CopyFrom.Path, entry.CopyFrom.Revision)
	}

	// Insertion/deletion counts, colored individually
	if entry.Additions > 0 {
		_, _ = successColor.Printf("  +%d", entry.Additions)
	}
	if entry.Deletions > 0 {
		_, _ = errorColor.Printf("  -%d", entry.Deletions)
	}
	fmt.Println()

	// Thin separator under the header
	_, _ = dimColor.Println("  " + strings.Repeat("─", 50))
}

func printUnifiedDiff(diffText string) {
	lines := strings.Split(diffText, "\n")
	for i, line := range lines {
		// Preserve trailing newline semantics from generated patches.
		if i == len(lines)-1 && line == "" {
			continue
		}

		switch {
		// Skip redundant diff header lines, already shown in the entry header
		case strings.HasPrefix(line, "+++ "),
			strings.HasPrefix(line, "--- "):
			continue
		case strings.HasPrefix(line, "@@"):
			_, _ = infoColor.Printf("  %s\n", line)
		case strings.HasPrefix(line, "+"):
			_, _ = successColor.Printf("  %s\n", line)
		case strings.HasPrefix(line, "-"):
			_, _ = errorColor.Printf("  %s\n", line)
		default:
			fmt.Printf("  %s\n", line)
		}
	}
}

// Package output renders catalogs, run history and progress for the
// terminal.
//
// Tables are plain text with fixed-width columns. Sizes and times are
// humanized with go-humanize, and item states are colored only when stdout
// is a terminal and NO_COLOR is unset.
package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/databackup-cli/databackup/internal/catalog"
	"github.com/databackup-cli/databackup/internal/store"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled reports whether ANSI colors should be emitted on stdout.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

func rule(sb *strings.Builder, n int) {
	sb.WriteString(strings.Repeat("─", n))
	sb.WriteString("\n")
}

// RenderBackupTable lists backup candidates by package name.
func RenderBackupTable(candidates map[string]*catalog.BackupCandidate) string {
	if len(candidates) == 0 {
		return "No installed packages found.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-36s %-12s %-9s %-9s %-6s %s\n",
		"Package", "Version", "App", "Data", "Select", "Last Backup"))
	rule(&sb, 88)

	for _, name := range sortedKeys(candidates) {
		c := candidates[name]
		lastBackup := c.LastBackup
		if lastBackup == "" {
			lastBackup = "never"
		}
		if !c.IsOnThisDevice {
			lastBackup += " (uninstalled)"
		}
		sb.WriteString(fmt.Sprintf("%-36s %-12s %-9s %-9s %-6s %s\n",
			truncate(c.PackageName, 36),
			truncate(c.VersionName, 12),
			formatSize(c.Storage.AppBytes),
			formatSize(c.Storage.DataBytes),
			formatSelection(c.SelectApp, c.SelectData),
			lastBackup))
	}
	return sb.String()
}

// RenderRestoreTable lists restore candidates with one row per dated backup.
func RenderRestoreTable(candidates map[string]*catalog.RestoreCandidate) string {
	if len(candidates) == 0 {
		return "No app backups found.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-36s %-20s %-9s %-6s %s\n",
		"Package", "Date", "Contents", "Select", "Installed"))
	rule(&sb, 84)

	for _, name := range sortedKeys(candidates) {
		c := candidates[name]
		details := append([]catalog.RestoreDetail(nil), c.Details...)
		sort.Slice(details, func(i, j int) bool { return details[i].After(details[j]) })

		installed := "no"
		if c.IsOnThisDevice {
			installed = "yes"
		}
		for i, d := range details {
			pkg := truncate(c.PackageName, 36)
			inst := installed
			if i > 0 {
				pkg, inst = "", ""
			}
			sb.WriteString(fmt.Sprintf("%-36s %-20s %-9s %-6s %s\n",
				pkg,
				d.Date,
				formatContents(d.HasApp, d.HasData),
				formatSelection(d.SelectApp, d.SelectData),
				inst))
		}
	}
	return sb.String()
}

// RenderMediaTable lists media directories that can be backed up.
func RenderMediaTable(media map[string]*catalog.MediaBackup) string {
	if len(media) == 0 {
		return "No media directories configured.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-12s %-44s %-9s %-8s %s\n",
		"Name", "Path", "Size", "Selected", "Last Backup"))
	rule(&sb, 88)

	for _, name := range sortedKeys(media) {
		m := media[name]
		lastBackup := m.LastBackup
		if lastBackup == "" {
			lastBackup = "never"
		}
		sb.WriteString(fmt.Sprintf("%-12s %-44s %-9s %-8s %s\n",
			truncate(m.Name, 12),
			truncate(m.Path, 44),
			formatSize(m.SizeBytes),
			formatBool(m.Selected),
			lastBackup))
	}
	return sb.String()
}

// RenderMediaRestoreTable lists media backups with one row per date.
func RenderMediaRestoreTable(media map[string]*catalog.MediaRestore) string {
	if len(media) == 0 {
		return "No media backups found.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-12s %-20s %-8s %s\n",
		"Name", "Date", "Selected", "Restores To"))
	rule(&sb, 80)

	for _, name := range sortedKeys(media) {
		m := media[name]
		details := append([]catalog.MediaRestoreDetail(nil), m.Details...)
		sort.Slice(details, func(i, j int) bool { return details[i].After(details[j]) })
		for i, d := range details {
			label, target := truncate(m.Name, 12), m.Path
			if i > 0 {
				label, target = "", ""
			}
			sb.WriteString(fmt.Sprintf("%-12s %-20s %-8s %s\n",
				label, d.Date, formatBool(d.Selected), target))
		}
	}
	return sb.String()
}

// RunSummary pairs a run with its item tallies.
type RunSummary struct {
	Run    *store.Run
	Counts store.Counts
}

// RenderRunTable lists runs newest first.
func RenderRunTable(runs []RunSummary) string {
	if len(runs) == 0 {
		return "No runs recorded.\n"
	}

	sorted := append([]RunSummary(nil), runs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Run.StartedAt.After(sorted[j].Run.StartedAt)
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-10s %-14s %-16s %-10s %s\n",
		"Run", "Kind", "Started", "Duration", "Result"))
	rule(&sb, 80)

	for _, s := range sorted {
		duration := "running"
		if !s.Run.FinishedAt.IsZero() {
			duration = s.Run.FinishedAt.Sub(s.Run.StartedAt).Round(time.Second).String()
		}
		sb.WriteString(fmt.Sprintf("%-10s %-14s %-16s %-10s %s\n",
			shortID(s.Run.ID),
			string(s.Run.Kind),
			formatRelativeTime(s.Run.StartedAt),
			duration,
			RenderCounts(s.Counts)))
	}
	return sb.String()
}

// RenderItemTable lists the items of one run in the order they ran.
func RenderItemTable(items []*store.Item) string {
	if len(items) == 0 {
		return "No items recorded.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-36s %-8s %-10s %-10s %s\n",
		"Target", "Type", "State", "Size", "Message"))
	rule(&sb, 96)

	for _, it := range items {
		// Pad before coloring so escape codes do not skew the columns.
		state := colorize(stateColor(it.State), fmt.Sprintf("%-10s", it.State))
		sb.WriteString(fmt.Sprintf("%-36s %-8s %s %-10s %s\n",
			truncate(it.Target, 36),
			it.DataType,
			state,
			formatRecordedSize(it.Size),
			truncate(firstLine(it.Message), 60)))
	}
	return sb.String()
}

// RenderCounts formats run tallies, e.g. "4 ok · 1 skipped · 0 failed".
func RenderCounts(c store.Counts) string {
	failed := fmt.Sprintf("%d failed", c.Failed)
	if c.Failed > 0 {
		failed = colorize(colorRed, failed)
	}
	return fmt.Sprintf("%d ok · %d skipped · %s", c.Succeeded, c.Skipped, failed)
}

func stateColor(state string) string {
	switch state {
	case store.StateSucceeded:
		return colorGreen
	case store.StateSkipped:
		return colorYellow
	case store.StateFailed:
		return colorRed
	default:
		return colorGray
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatSelection(app, data bool) string {
	var s []byte
	if app {
		s = append(s, 'A')
	}
	if data {
		s = append(s, 'D')
	}
	if len(s) == 0 {
		return "-"
	}
	return string(s)
}

func formatContents(hasApp, hasData bool) string {
	switch {
	case hasApp && hasData:
		return "app+data"
	case hasApp:
		return "app"
	case hasData:
		return "data"
	default:
		return "-"
	}
}

func formatBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// formatSize renders bytes in IEC units, e.g. "1.5 MiB".
func formatSize(bytes int64) string {
	if bytes <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(bytes))
}

// formatRecordedSize renders the size column of a history item. Sizes are
// stored in bytes as text; anything else is shown as is.
func formatRecordedSize(s string) string {
	var n int64
	if _, err := fmt.Sscan(s, &n); err == nil {
		return formatSize(n)
	}
	if s == "" {
		return "-"
	}
	return s
}

// formatRelativeTime renders t as "3 hours ago".
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// truncate shortens s to maxLen, ending in "..." when cut.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dyluth/blur/internal/filter"
	"github.com/dyluth/blur/internal/journal"
	"github.com/dyluth/blur/internal/printer"
	"github.com/dyluth/blur/internal/protocol"
	"github.com/dyluth/blur/internal/resolver"
	"github.com/dyluth/blur/internal/timespec"
	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historySince  string
	historyUntil  string
	historyGlob   string
	historyFailed bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the updates applied to the target application",
	Long: `List the updates recorded in the target application's journal, newest first.

The application only keeps a history when journal.path is configured.

Examples:
  # The last 20 updates
  blur history

  # Rejected updates to Button methods in the last hour
  blur history --since 1h --target-glob 'widgets.Button.*' --failed

  # Print the source sent by one update
  blur history show 3f2a9c`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, until, err := timespec.ParseRange(historySince, historyUntil, time.Now())
		if err != nil {
			return printer.Error("invalid time range", err.Error(), nil)
		}
		criteria := &filter.Criteria{
			Since:      since,
			Until:      until,
			TargetGlob: historyGlob,
			FailedOnly: historyFailed,
		}

		// Filtering happens here, so fetch everything when a filter is set
		limit := historyLimit
		if criteria.HasFilters() {
			limit = 0
		}
		entries, err := fetchHistory(cmd, limit)
		if err != nil {
			return err
		}
		entries = criteria.Apply(entries)
		if historyLimit > 0 && len(entries) > historyLimit {
			entries = entries[:historyLimit]
		}

		if len(entries) == 0 {
			printer.Info("No updates recorded (is journal.path configured in the application?)\n")
			return nil
		}

		w := tabwriter.NewWriter(printer.Output, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tAT\tTARGET\tKIND\tRESULT")
		for _, e := range entries {
			result := "ok"
			if !e.OK {
				// Script errors can span lines
				result = strings.Join(strings.Fields(e.Error), " ")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(e.ID), e.At.Local().Format("2006-01-02 15:04:05"), e.Target, e.Kind, result)
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the source sent by an update",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := fetchHistory(cmd, 0)
		if err != nil {
			return err
		}

		entry, err := resolver.ResolveEntry(entries, args[0])
		if err != nil {
			if ambErr, ok := err.(*resolver.AmbiguousError); ok {
				return printer.Error("ambiguous update ID", resolver.FormatAmbiguousError(ambErr), nil)
			}
			return printer.Error(
				"update not found",
				err.Error(),
				[]string{"List the recorded updates with:\n  blur history"},
			)
		}

		printer.Info("%s  %s  %s\n", entry.ID, entry.Target, entry.At.Local().Format(time.RFC3339))
		printer.Source(entry.Source)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum number of entries (0 for all)")
	historyCmd.Flags().StringVar(&historySince, "since", "", "Only updates after this time (duration like 1h or RFC3339)")
	historyCmd.Flags().StringVar(&historyUntil, "until", "", "Only updates before this time (duration like 1h or RFC3339)")
	historyCmd.Flags().StringVar(&historyGlob, "target-glob", "", "Only updates whose target matches this glob")
	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "Only updates that were rejected")

	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

// fetchHistory asks the target application for up to limit journal entries.
func fetchHistory(cmd *cobra.Command, limit int) ([]journal.Entry, error) {
	reply, err := request(cmd, fmt.Sprintf("%s:%d", protocol.KeywordHistory, limit))
	if err != nil {
		return nil, err
	}
	if reply == "" {
		return nil, noReply(protocol.KeywordHistory)
	}

	var entries []journal.Entry
	if err := json.Unmarshal([]byte(reply), &entries); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}
	return entries, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

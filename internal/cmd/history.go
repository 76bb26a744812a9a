package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/legion-dev/legion/internal/history"
)

var (
	historyAll      bool
	historyBefore   int64
	historyLimit    int
	historyTruncate int64
	historyClear    bool
)

var historyCmd = &cobra.Command{
	Use:   "history <minion>",
	Short: "Show or edit a minion's conversation history",
	Long: `Show a minion's messages from the latest compaction boundary onward.
Use --all for the full log, --before/--limit to page backward, --truncate
to drop messages after a sequence number, or --clear to wipe the history
(which also removes the plan file and tracking state).`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "show the full log across compaction boundaries")
	historyCmd.Flags().Int64Var(&historyBefore, "before", 0, "page backward from this sequence number")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "page size for --before")
	historyCmd.Flags().Int64Var(&historyTruncate, "truncate", -1, "drop messages with sequence greater than this")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "wipe the history entirely")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.orch.Resolve(a.projectPath, args[0])
	if err != nil {
		return err
	}

	if historyClear {
		if err := a.orch.TruncateHistory(m.ID, 0); err != nil {
			return fmt.Errorf("failed to clear history: %w", err)
		}
		fmt.Printf("History cleared for %s\n", m.Name)
		return nil
	}
	if historyTruncate >= 0 {
		if err := a.orch.TruncateHistory(m.ID, historyTruncate); err != nil {
			return fmt.Errorf("failed to truncate history: %w", err)
		}
		fmt.Printf("History truncated after sequence %d\n", historyTruncate)
		return nil
	}

	if historyBefore > 0 {
		msgs, more, err := a.orch.LoadOlderHistory(m.ID, historyBefore, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}
		printMessages(msgs)
		if more {
			fmt.Println("(more messages above)")
		}
		return nil
	}

	var msgs []history.Message
	if historyAll {
		msgs, err = a.orch.LoadAllHistory(m.ID)
	} else {
		msgs, err = a.orch.LoadHistory(m.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	printMessages(msgs)
	return nil
}

func printMessages(msgs []history.Message) {
	for i := range msgs {
		m := &msgs[i]
		text := m.Text()
		if m.IsCompactedSummary() {
			fmt.Printf("[%d] --- compacted summary (epoch %d) ---\n", m.HistorySequence, m.CompactionEpoch)
		}
		if text == "" {
			continue
		}
		fmt.Printf("[%d] %s: %s\n", m.HistorySequence, m.Role, strings.TrimSpace(text))
	}
}

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List minions in the current project",
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include archived minions")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	minions, err := a.orch.List(a.projectPath, listAll)
	if err != nil {
		return fmt.Errorf("failed to list minions: %w", err)
	}
	if len(minions) == 0 {
		fmt.Println("No minions in this project")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tRUNTIME\tSTATE\tQUEUE\tTITLE")
	for _, ms := range minions {
		state := string(ms.State)
		switch {
		case ms.Removing:
			state = "removing"
		case ms.Initializing:
			state = "initializing"
		case ms.Minion.Archived():
			state = "archived"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			ms.Minion.Name, ms.Minion.ID, ms.Minion.Runtime.Kind, state, ms.QueueLen, ms.Minion.Title)
	}
	return w.Flush()
}

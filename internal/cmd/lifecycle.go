package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/legion-dev/legion/internal/orchestrator"
)

var (
	removeForce      bool
	removeSkipRollup bool
)

var removeCmd = &cobra.Command{
	Use:   "remove <minion>",
	Short: "Remove a minion and its working copy",
	Long: `Remove a minion. Its stream is stopped, its artifacts, timing, and
usage roll up into the parent (if any), and the working copy is destroyed.
Removal is idempotent: removing a minion that is already being removed, or
already gone, succeeds.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

var archiveCmd = &cobra.Command{
	Use:   "archive <minion>",
	Short: "Archive a minion",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchive,
}

var unarchiveCmd = &cobra.Command{
	Use:   "unarchive <minion>",
	Short: "Restore an archived minion",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnarchive,
}

var renameCmd = &cobra.Command{
	Use:   "rename <minion> <new-name>",
	Short: "Rename a minion and its working copy",
	Args:  cobra.ExactArgs(2),
	RunE:  runRename,
}

var titleRegenerate bool

var titleCmd = &cobra.Command{
	Use:   "title <minion> [new-title]",
	Short: "Set or regenerate a minion's display title",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTitle,
}

var forkCmd = &cobra.Command{
	Use:   "fork <minion> [new-name]",
	Short: "Fork a minion into a sibling that continues its conversation",
	Long: `Fork a minion into a sibling that continues its conversation. The fork
is named {source}-fork-{n} unless a new name is given.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runFork,
}

var pruneMergedCmd = &cobra.Command{
	Use:   "prune-merged",
	Short: "Archive worktree minions whose branches are merged into trunk",
	RunE:  runPruneMerged,
}

func init() {
	removeCmd.Flags().BoolVarP(&removeForce, "force", "f", false, "remove the registry entry even if the working copy cannot be deleted")
	removeCmd.Flags().BoolVar(&removeSkipRollup, "skip-rollup", false, "do not consolidate artifacts into the parent")
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(unarchiveCmd)
	rootCmd.AddCommand(renameCmd)
	titleCmd.Flags().BoolVar(&titleRegenerate, "regenerate", false, "derive a fresh title from the conversation")
	rootCmd.AddCommand(titleCmd)
	rootCmd.AddCommand(forkCmd)
	rootCmd.AddCommand(pruneMergedCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.orch.Resolve(a.projectPath, args[0])
	if err != nil {
		return err
	}
	if err := a.orch.Remove(cmd.Context(), m.ID, orchestrator.RemoveOptions{
		Force:      removeForce,
		SkipRollup: removeSkipRollup,
	}); err != nil {
		return fmt.Errorf("failed to remove minion: %w", err)
	}
	fmt.Printf("Removed %s\n", m.Name)
	return nil
}

func runArchive(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.orch.Resolve(a.projectPath, args[0])
	if err != nil {
		return err
	}
	if err := a.orch.Archive(cmd.Context(), m.ID); err != nil {
		return fmt.Errorf("failed to archive minion: %w", err)
	}
	fmt.Printf("Archived %s\n", m.Name)
	return nil
}

func runUnarchive(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.orch.Resolve(a.projectPath, args[0])
	if err != nil {
		return err
	}
	if err := a.orch.Unarchive(cmd.Context(), m.ID); err != nil {
		return fmt.Errorf("failed to unarchive minion: %w", err)
	}
	fmt.Printf("Unarchived %s\n", m.Name)
	return nil
}

func runRename(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.orch.Resolve(a.projectPath, args[0])
	if err != nil {
		return err
	}
	if err := a.orch.Rename(cmd.Context(), m.ID, args[1]); err != nil {
		return fmt.Errorf("failed to rename minion: %w", err)
	}
	fmt.Printf("Renamed %s to %s\n", m.Name, args[1])
	return nil
}

func runTitle(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.orch.Resolve(a.projectPath, args[0])
	if err != nil {
		return err
	}

	if titleRegenerate {
		title, err := a.orch.RegenerateTitle(cmd.Context(), m.ID)
		if err != nil {
			return fmt.Errorf("failed to regenerate title: %w", err)
		}
		fmt.Printf("Title: %s\n", title)
		return nil
	}

	if len(args) < 2 {
		return fmt.Errorf("provide a new title or --regenerate")
	}
	if err := a.orch.UpdateTitle(m.ID, args[1]); err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	fmt.Printf("Title updated for %s\n", m.Name)
	return nil
}

func runFork(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.orch.Resolve(a.projectPath, args[0])
	if err != nil {
		return err
	}
	newName := ""
	if len(args) > 1 {
		newName = args[1]
	}
	fork, err := a.orch.Fork(cmd.Context(), m.ID, newName)
	if err != nil {
		return fmt.Errorf("failed to fork minion: %w", err)
	}
	fmt.Printf("Forked %s into %s\n", m.Name, fork.Name)
	fmt.Printf("ID: %s\n", fork.ID)
	return nil
}

func runPruneMerged(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	results, err := a.orch.ArchiveMerged(cmd.Context(), a.projectPath)
	if err != nil {
		return fmt.Errorf("failed to check merged branches: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No worktree minions to check")
		return nil
	}
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Printf("%s: check failed: %v\n", r.Name, r.Err)
		case r.Archived:
			fmt.Printf("%s: merged, archived\n", r.Name)
		case r.Merged:
			fmt.Printf("%s: merged, archive failed\n", r.Name)
		default:
			fmt.Printf("%s: not merged\n", r.Name)
		}
	}
	return nil
}

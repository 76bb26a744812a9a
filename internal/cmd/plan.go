package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/legion-dev/legion/internal/plan"
)

var planStatus string

var planCmd = &cobra.Command{
	Use:   "plan <minion>",
	Short: "Show or update a minion's plan",
	Long: `Print the minion's plan.md, or move it through its lifecycle with
--status (draft, approved, done).`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planStatus, "status", "", "set the plan status")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.orch.Resolve(a.projectPath, args[0])
	if err != nil {
		return err
	}

	if planStatus != "" {
		if err := a.orch.SetPlanStatus(m.ID, plan.Status(planStatus)); err != nil {
			return fmt.Errorf("failed to update plan: %w", err)
		}
		fmt.Printf("Plan for %s is now %s\n", m.Name, planStatus)
		return nil
	}

	p, err := a.orch.LoadPlan(m.ID)
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}
	if p == nil {
		fmt.Printf("%s has no plan\n", m.Name)
		return nil
	}
	if p.Title != "" {
		fmt.Printf("%s [%s]\n\n", p.Title, p.Status)
	} else {
		fmt.Printf("[%s]\n\n", p.Status)
	}
	fmt.Print(p.Body)
	return nil
}

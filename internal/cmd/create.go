package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/legion-dev/legion/internal/minion"
	"github.com/legion-dev/legion/internal/orchestrator"
)

var (
	createTitle   string
	createRuntime string
	createTrunk   string
	createParent  string
	createCrew    string
	createInit    []string
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new minion",
	Long: `Create a new minion bound to a fresh working copy. The runtime kind
selects the isolation backend: worktree (default), local, ssh, container,
or devcontainer. If the name is taken, a random suffix is tried.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVarP(&createTitle, "title", "t", "", "display title")
	createCmd.Flags().StringVarP(&createRuntime, "runtime", "r", "", "runtime kind (default from config)")
	createCmd.Flags().StringVar(&createTrunk, "trunk", "", "trunk branch for worktree runtimes")
	createCmd.Flags().StringVar(&createParent, "parent", "", "parent minion id")
	createCmd.Flags().StringVar(&createCrew, "crew", "", "crew/grouping id")
	createCmd.Flags().StringArrayVar(&createInit, "init", nil, "init command to run in the new working copy")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.orch.Create(cmd.Context(), orchestrator.CreateRequest{
		Name:        args[0],
		Title:       createTitle,
		ProjectPath: a.projectPath,
		Runtime: minion.RuntimeConfig{
			Kind:        minion.RuntimeKind(createRuntime),
			TrunkBranch: createTrunk,
		},
		ParentID:    createParent,
		CrewID:      createCrew,
		InitCommand: createInit,
	})
	if err != nil {
		return fmt.Errorf("failed to create minion: %w", err)
	}

	fmt.Printf("Created minion %s\n", m.Name)
	fmt.Printf("ID: %s\n", m.ID)
	fmt.Printf("Runtime: %s\n", m.Runtime.Kind)
	if len(createInit) > 0 {
		fmt.Println("Provisioning started in the background")
	}
	return nil
}

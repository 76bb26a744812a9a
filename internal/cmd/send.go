package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/legion-dev/legion/internal/orchestrator"
	"github.com/legion-dev/legion/internal/session"
)

var (
	sendModel     string
	sendThinking  string
	sendImmediate bool
	sendNoDefault bool
)

var sendCmd = &cobra.Command{
	Use:   "send <minion> <message>",
	Short: "Send a message to a minion",
	Long: `Send a chat message to a minion by name or ID. If the minion is
already streaming, the message is queued unless --immediate is given.`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

var interruptSoft bool
var interruptAbandon bool
var interruptFlush bool

var interruptCmd = &cobra.Command{
	Use:   "interrupt <minion>",
	Short: "Interrupt a minion's active stream",
	Long: `Stop a minion's in-flight turn. By default the interrupt is hard:
descendant sub-tasks are terminated as well so they cannot resume the
parent later. Use --soft to stop only this minion's stream.`,
	Args: cobra.ExactArgs(1),
	RunE: runInterrupt,
}

func init() {
	sendCmd.Flags().StringVar(&sendModel, "model", "", "model override for this turn")
	sendCmd.Flags().StringVar(&sendThinking, "thinking", "", "thinking level override")
	sendCmd.Flags().BoolVar(&sendImmediate, "immediate", false, "fail instead of queueing when busy")
	sendCmd.Flags().BoolVar(&sendNoDefault, "no-save-defaults", false, "do not store the overrides as new defaults")
	rootCmd.AddCommand(sendCmd)

	interruptCmd.Flags().BoolVar(&interruptSoft, "soft", false, "do not cascade to descendant tasks")
	interruptCmd.Flags().BoolVar(&interruptAbandon, "abandon-partial", false, "discard the uncommitted partial message")
	interruptCmd.Flags().BoolVar(&interruptFlush, "flush-queue", false, "start the next queued message immediately")
	rootCmd.AddCommand(interruptCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.orch.Resolve(a.projectPath, args[0])
	if err != nil {
		return err
	}

	err = a.orch.SendMessage(cmd.Context(), m.ID, args[1], orchestrator.SendOptions{
		Settings:          session.AISettings{Model: sendModel, ThinkingLevel: sendThinking},
		NoPersistDefaults: sendNoDefault,
		Immediate:         sendImmediate,
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	fmt.Printf("Message sent to %s\n", m.Name)
	return nil
}

func runInterrupt(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.orch.Resolve(a.projectPath, args[0])
	if err != nil {
		return err
	}

	queued, err := a.orch.InterruptStream(cmd.Context(), m.ID, orchestrator.InterruptOptions{
		Soft:                  interruptSoft,
		AbandonPartial:        interruptAbandon,
		SendQueuedImmediately: interruptFlush,
	})
	if err != nil {
		return fmt.Errorf("failed to interrupt: %w", err)
	}

	fmt.Printf("Interrupted %s\n", m.Name)
	for _, q := range queued {
		fmt.Printf("Returned queued message: %s\n", q.Text)
	}
	return nil
}

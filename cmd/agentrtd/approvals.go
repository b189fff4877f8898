package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fendari/agentrt/internal/agent"
	"github.com/fendari/agentrt/internal/approvalstore"
)

// buildApprovalsCmd creates the "approvals" command group: the
// interactive counterpart to AgentRunState's approval-pause contract.
// A serve process persists pending requests through its ApprovalStore;
// this command resolves them from a separate invocation.
func buildApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Inspect and resolve paused tool-call approvals",
	}
	cmd.AddCommand(
		buildApprovalsListCmd(),
		buildApprovalsApproveCmd(),
		buildApprovalsDenyCmd(),
		buildApprovalsPromptCmd(),
	)
	return cmd
}

func openApprovalStoreForCLI(configPath string) (agent.ApprovalStore, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.ApprovalStore.DSN == "" {
		return nil, nil, fmt.Errorf("no approval_store.dsn configured; nothing to connect to")
	}
	store, err := approvalstore.NewFromDSN(cfg.ApprovalStore.DSN, approvalstore.DefaultConfig())
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func buildApprovalsListCmd() *cobra.Command {
	var configPath, agentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openApprovalStoreForCLI(configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			reqs, err := store.ListPending(cmd.Context(), agentID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(reqs) == 0 {
				fmt.Fprintln(out, "No pending approvals.")
				return nil
			}
			for _, req := range reqs {
				fmt.Fprintf(out, "%s  tool=%s  agent=%s  reason=%s  expires=%s\n",
					req.ID, req.ToolName, req.AgentID, req.Reason, req.ExpiresAt.Format("15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&agentID, "agent", "", "Filter by agent ID")
	return cmd
}

func buildApprovalsApproveCmd() *cobra.Command {
	var configPath, decidedBy string
	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending tool-call request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openApprovalStoreForCLI(configPath)
			if err != nil {
				return err
			}
			defer closeFn()
			return decideApproval(cmd, store, args[0], decidedBy, true)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&decidedBy, "by", "cli", "Identity recorded as the approver")
	return cmd
}

func buildApprovalsDenyCmd() *cobra.Command {
	var configPath, decidedBy string
	cmd := &cobra.Command{
		Use:   "deny <request-id>",
		Short: "Deny a pending tool-call request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openApprovalStoreForCLI(configPath)
			if err != nil {
				return err
			}
			defer closeFn()
			return decideApproval(cmd, store, args[0], decidedBy, false)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&decidedBy, "by", "cli", "Identity recorded as the denier")
	return cmd
}

func decideApproval(cmd *cobra.Command, store agent.ApprovalStore, requestID, decidedBy string, approve bool) error {
	req, err := store.Get(cmd.Context(), requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("no such approval request: %s", requestID)
	}
	if req.Decision != agent.ApprovalPending {
		return fmt.Errorf("request %s already decided: %s", requestID, req.Decision)
	}

	decision := agent.ApprovalDenied
	if approve {
		decision = agent.ApprovalAllowed
	}
	req.Decision = decision
	req.DecidedBy = decidedBy
	if err := store.Update(cmd.Context(), req); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", requestID, decision)
	return nil
}

// buildApprovalsPromptCmd walks every pending approval one at a time,
// reading a single keypress (y/n) per request rather than requiring a
// request ID on the command line.
func buildApprovalsPromptCmd() *cobra.Command {
	var configPath, decidedBy string
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Interactively approve or deny each pending request",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openApprovalStoreForCLI(configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			reqs, err := store.ListPending(cmd.Context(), "")
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending approvals.")
				return nil
			}

			for _, req := range reqs {
				approved, err := promptYesNo(cmd, fmt.Sprintf("Approve tool call %q (%s)? [y/N] ", req.ToolName, req.ID))
				if err != nil {
					return err
				}
				if err := decideApproval(cmd, store, req.ID, decidedBy, approved); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "failed to record decision for %s: %v\n", req.ID, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&decidedBy, "by", "cli", "Identity recorded as the approver")
	return cmd
}

// promptYesNo reads a single keypress from the terminal without
// requiring Enter, falling back to a line-buffered read when stdin is
// not a terminal (e.g. piped input in tests or CI).
func promptYesNo(cmd *cobra.Command, prompt string) (bool, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		var line string
		fmt.Fscanln(cmd.InOrStdin(), &line)
		return isYes(line), nil
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return false, err
	}
	defer term.Restore(fd, oldState)

	buf := make([]byte, 1)
	if _, err := os.Stdin.Read(buf); err != nil {
		return false, err
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return isYes(string(buf)), nil
}

func isYes(s string) bool {
	return s == "y" || s == "Y"
}

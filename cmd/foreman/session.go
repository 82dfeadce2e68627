package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/amonks/foreman/internal/ui"
	"github.com/amonks/foreman/session"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and create sessions on a running daemon",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Queue a new coding session",
	Args:  cobra.NoArgs,
	RunE:  runSessionCreate,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionLogsCmd = &cobra.Command{
	Use:   "logs <session-id>",
	Short: "Print a session's event log",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionLogs,
}

var (
	sessionAddr      string
	sessionListJSON  bool
	sessionCreateReq struct {
		Repo      string `json:"repo"`
		Prompt    string `json:"prompt"`
		Model     string `json:"model,omitempty"`
		CreatedBy string `json:"createdBy,omitempty"`
	}
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionCreateCmd, sessionListCmd, sessionShowCmd, sessionLogsCmd)

	sessionCmd.PersistentFlags().StringVar(&sessionAddr, "addr", "http://localhost:3001", "Base URL of the foreman daemon")
	sessionListCmd.Flags().BoolVar(&sessionListJSON, "json", false, "Output as JSON")
	sessionCreateCmd.Flags().StringVar(&sessionCreateReq.Repo, "repo", "", "Target repository (owner/name or URL)")
	sessionCreateCmd.Flags().StringVar(&sessionCreateReq.Prompt, "prompt", "", "Task description for the agent")
	sessionCreateCmd.Flags().StringVar(&sessionCreateReq.Model, "model", "", "Model identifier")
	sessionCreateCmd.Flags().StringVar(&sessionCreateReq.CreatedBy, "created-by", "", "Requester identity")
	_ = sessionCreateCmd.MarkFlagRequired("repo")
	_ = sessionCreateCmd.MarkFlagRequired("prompt")
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	var created session.Session
	client := newAPIClient(sessionAddr)
	if err := client.postJSON(cmd.Context(), "/sessions", sessionCreateReq, &created); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Queued session %s for %s\n", created.ID, created.Repo)
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	var resp struct {
		Sessions []session.Session `json:"sessions"`
	}
	client := newAPIClient(sessionAddr)
	if err := client.getJSON(cmd.Context(), "/sessions", &resp); err != nil {
		return err
	}

	if sessionListJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(resp.Sessions)
	}

	fmt.Fprint(cmd.OutOrStdout(), formatSessionTable(resp.Sessions, time.Now()))
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	var sess session.Session
	client := newAPIClient(sessionAddr)
	if err := client.getJSON(cmd.Context(), "/sessions/"+args[0], &sess); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session:  %s\n", sess.ID)
	fmt.Fprintf(out, "Repo:     %s\n", sess.Repo)
	fmt.Fprintf(out, "Status:   %s\n", styleStatus(sess.Status))
	fmt.Fprintf(out, "Model:    %s\n", sess.Model)
	fmt.Fprintf(out, "Created:  %s by %s\n", ui.FormatTimeAgo(sess.CreatedAt, time.Now()), sess.CreatedBy)
	if sess.Branch != "" {
		fmt.Fprintf(out, "Branch:   %s\n", sess.Branch)
	}
	if sess.PRURL != "" {
		fmt.Fprintf(out, "PR:       %s\n", sess.PRURL)
	}
	if sess.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", sess.Error)
	}
	fmt.Fprintf(out, "\nPrompt:\n%s\n", wordwrap.String(sess.Prompt, 72))
	return nil
}

func runSessionLogs(cmd *cobra.Command, args []string) error {
	var resp struct {
		Events []session.Event `json:"events"`
	}
	client := newAPIClient(sessionAddr)
	if err := client.getJSON(cmd.Context(), "/sessions/"+args[0]+"/events", &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, event := range resp.Events {
		fmt.Fprintf(out, "%s  %-13s %s\n", event.At.Local().Format("15:04:05"), event.Type, event.Message)
	}
	return nil
}

var (
	queuedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true)
)

func styleStatus(status session.Status) string {
	switch status {
	case session.StatusQueued:
		return queuedStyle.Render(string(status))
	case session.StatusCompleted:
		return doneStyle.Render(string(status))
	case session.StatusFailed:
		return failedStyle.Render(string(status))
	default:
		return activeStyle.Render(string(status))
	}
}

package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/bondly/bondly/internal/watcher"
	"github.com/bondly/bondly/pkg/api"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var (
		role     string
		interval time.Duration
		noPush   bool
	)
	cmd := &cobra.Command{
		Use:   "watch SESSION_ID",
		Short: "Wait for advice and print it",
		Long: `Wait until advice for a session is ready, then print it. The CLI follows the
server's event stream and polls the session status; whichever sees the advice
first wins.

Examples:
  bondly watch 4a7c...
  bondly watch 4a7c... --role partner --no-push`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			if role == "" {
				role = GetConfig().Role(sessionID)
			}
			if role != "" && role != api.RoleCreator && role != api.RolePartner {
				return fmt.Errorf("invalid role %q, must be %s or %s", role, api.RoleCreator, api.RolePartner)
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			out := cmd.OutOrStdout()
			res, err := watcher.Watch(ctx, client, sessionID, watcher.Options{
				Role:         role,
				PollInterval: interval,
				DisablePush:  noPush,
				OnState: func(state string) {
					if !jsonOutput {
						fmt.Fprintf(out, "Session is %s\n", stateLabel(state))
					}
				},
			})
			if err != nil {
				if errors.Is(err, watcher.ErrSessionGone) {
					return fmt.Errorf("session %s: %w", sessionID, err)
				}
				return describeError(err)
			}

			advice, err := client.GetAdvice(ctx, res.AdviceID)
			if err != nil {
				return describeError(err)
			}
			cfg := GetConfig()
			if entry, ok := cfg.Sessions[sessionID]; ok && entry != nil {
				entry.AdviceID = res.AdviceID
				if err := saveConfig(); err != nil {
					return err
				}
			}
			if jsonOutput {
				return printJSON(out, advice)
			}
			printAdvice(out, advice)
			return nil
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", "", "Your role in the session (creator or partner); defaults to the remembered role")
	cmd.Flags().DurationVar(&interval, "interval", watcher.DefaultPollInterval, "How often to poll the session status")
	cmd.Flags().BoolVar(&noPush, "no-push", false, "Poll only, do not follow the event stream")
	return cmd
}

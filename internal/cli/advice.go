package cli

import (
	"errors"
	"fmt"

	"github.com/bondly/bondly/pkg/api"
	"github.com/spf13/cobra"
)

func newAdviceCmd() *cobra.Command {
	var (
		sessionID string
		role      string
	)
	cmd := &cobra.Command{
		Use:   "advice [ADVICE_ID]",
		Short: "Print advice by id, or the latest advice of a session",
		Long: `Print advice by its id, or look up the latest advice for your role in a session.

Examples:
  bondly advice 9b1e...
  bondly advice --session 4a7c... --role creator`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && sessionID == "" {
				return errors.New("pass an advice id or --session")
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			adviceID := ""
			if len(args) == 1 {
				adviceID = args[0]
			} else {
				if role == "" {
					role = GetConfig().Role(sessionID)
				}
				if role != api.RoleCreator && role != api.RolePartner {
					return fmt.Errorf("--role must be %s or %s", api.RoleCreator, api.RolePartner)
				}
				id, found, err := client.GetAdviceID(ctx, sessionID, role == api.RoleCreator)
				if err != nil {
					return describeError(err)
				}
				if !found {
					return fmt.Errorf("no advice for the %s of session %s yet", role, sessionID)
				}
				adviceID = id
			}

			advice, err := client.GetAdvice(ctx, adviceID)
			if err != nil {
				if api.IsNotFound(err) {
					return fmt.Errorf("advice %s not found or expired", adviceID)
				}
				return describeError(err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), advice)
			}
			printAdvice(cmd.OutOrStdout(), advice)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session to look up advice for")
	cmd.Flags().StringVarP(&role, "role", "r", "", "Role to look up (creator or partner); defaults to the remembered role")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired sessions on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = GetConfig().CronSecret
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			res, err := client.Cleanup(ctx, secret)
			if err != nil {
				return describeError(err)
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, res)
			}
			okLabel.Fprintf(out, "Deleted %d sessions, %d responses and %d advice records\n",
				res.Deleted.Sessions, res.Deleted.Responses, res.Deleted.Advice)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Cron secret; defaults to the configured one")
	return cmd
}

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bondly/bondly/pkg/api"
	"github.com/spf13/cobra"
)

type perspectiveFlags struct {
	situation string
	feelings  string
	emotions  []string
}

func (p *perspectiveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.situation, "situation", "", "What happened, in your words")
	cmd.Flags().StringVar(&p.feelings, "feelings", "", "How it made you feel")
	cmd.Flags().StringSliceVarP(&p.emotions, "emotion", "e", nil, "An emotion tag, repeatable (e.g. Frustrated, Sad, Hopeful)")
	cmd.MarkFlagRequired("situation")
	cmd.MarkFlagRequired("feelings")
	cmd.MarkFlagRequired("emotion")
}

func (p *perspectiveFlags) perspective() api.Perspective {
	emotions := make([]string, 0, len(p.emotions))
	for _, e := range p.emotions {
		if e = strings.TrimSpace(e); e != "" {
			emotions = append(emotions, e)
		}
	}
	return api.Perspective{
		Situation: p.situation,
		Feelings:  p.feelings,
		Emotions:  emotions,
	}
}

func newNewCmd() *cobra.Command {
	var (
		name, partner string
		p             perspectiveFlags
	)
	cmd := &cobra.Command{
		Use:   "new --name NAME --partner NAME --situation TEXT --feelings TEXT --emotion TAG",
		Short: "Start a session and get a link for your partner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			rsp, err := client.CreateSession(ctx, api.CreateSessionRequest{
				CreatorName: name,
				PartnerName: partner,
				Perspective: p.perspective(),
			})
			if err != nil {
				return describeError(err)
			}
			cfg := GetConfig()
			cfg.SetToken(rsp.ParticipantToken, rsp.TokenExpiresAt)
			cfg.RememberSession(rsp.SessionID, SessionEntry{
				Role:       api.RoleCreator,
				Label:      partner,
				ShareToken: rsp.ShareToken,
			})
			if err := saveConfig(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, rsp)
			}
			okLabel.Fprintf(out, "Session %s created.\n", rsp.SessionID)
			if rsp.ShareURL != "" {
				fmt.Fprintf(out, "Send this link to %s: %s\n", partner, rsp.ShareURL)
			}
			fmt.Fprintf(out, "Or have them run: bondly respond %s --situation ... --feelings ... --emotion ...\n", rsp.ShareToken)
			fmt.Fprintf(out, "Then wait for your advice with: bondly watch %s\n", rsp.SessionID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Your name")
	cmd.Flags().StringVarP(&partner, "partner", "p", "", "Your partner's name")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("partner")
	p.register(cmd)
	return cmd
}

func newRespondCmd() *cobra.Command {
	var (
		name string
		p    perspectiveFlags
	)
	cmd := &cobra.Command{
		Use:   "respond SHARE_LINK_OR_TOKEN --situation TEXT --feelings TEXT --emotion TAG",
		Short: "Answer a session your partner started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shareToken, err := parseShareToken(args[0])
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			invite, err := client.GetPartnerInvite(ctx, shareToken)
			if err != nil {
				return describeError(err)
			}
			rsp, err := client.SubmitPartnerResponse(ctx, shareToken, api.PartnerResponseRequest{
				PartnerName: name,
				Perspective: p.perspective(),
			})
			if err != nil {
				return describeError(err)
			}
			cfg := GetConfig()
			cfg.SetToken(rsp.ParticipantToken, rsp.TokenExpiresAt)
			cfg.RememberSession(rsp.SessionID, SessionEntry{
				Role:     api.RolePartner,
				Label:    invite.CreatorName,
				AdviceID: rsp.AdviceID,
			})
			if err := saveConfig(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, rsp)
			}
			okLabel.Fprintf(out, "Your answer to %s's session was recorded.\n", invite.CreatorName)
			switch {
			case rsp.AdviceID != "":
				fmt.Fprintf(out, "Your advice is ready: bondly advice %s\n", rsp.AdviceID)
			case rsp.Code != "":
				errorLabel.Fprintf(out, "Advice could not be generated yet (%s). Retry with: bondly analyze %s\n", rsp.Code, rsp.SessionID)
			default:
				fmt.Fprintf(out, "Generate advice with: bondly analyze %s\n", rsp.SessionID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Your name, if your partner spelled it differently")
	p.register(cmd)
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze SESSION_ID",
		Short: "Generate advice for both partners",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			rsp, err := client.AnalyzeSession(ctx, args[0])
			if err != nil {
				return describeError(err)
			}
			cfg := GetConfig()
			if entry, ok := cfg.Sessions[args[0]]; ok && entry != nil {
				entry.AdviceID = rsp.AdviceIDs.Creator
				if entry.Role == api.RolePartner {
					entry.AdviceID = rsp.AdviceIDs.Partner
				}
				if err := saveConfig(); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, rsp)
			}
			okLabel.Fprintln(out, "Advice generated.")
			fmt.Fprintf(out, "Creator: bondly advice %s\n", rsp.AdviceIDs.Creator)
			fmt.Fprintf(out, "Partner: bondly advice %s\n", rsp.AdviceIDs.Partner)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status SESSION_ID",
		Short: "Show a session's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			st, err := client.GetSessionStatus(ctx, args[0])
			if err != nil {
				return describeError(err)
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, st)
			}
			fmt.Fprintf(out, "Session: %s\n", st.SessionID)
			fmt.Fprintf(out, "Status:  %s (%s)\n", st.Status, stateLabel(st.State))
			fmt.Fprintf(out, "Advice:  creator %s, partner %s\n", readyWord(st.AdviceReady.Creator), readyWord(st.AdviceReady.Partner))
			if role := firstNonEmpty(GetConfig().Role(st.SessionID), st.Role); role != "" {
				fmt.Fprintf(out, "You are: %s\n", role)
			}
			return nil
		},
	}
}

func readyWord(ready bool) string {
	if ready {
		return "ready"
	}
	return "pending"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List your sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if GetConfig().GetToken() == "" {
				return errors.New("no participant token yet; start or answer a session first")
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			sessions, err := client.ListMySessions(ctx)
			if err != nil {
				return describeError(err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), sessions)
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
}

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bondly/bondly/pkg/api"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const cardWidth = 76

var (
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF00FF")).
			Padding(0, 1).
			Width(cardWidth)
	sectionStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
)

func printAdvice(w io.Writer, a *api.Advice) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", headingLabel.Sprintf("Advice for %s", a.RecipientName))
	b.WriteString(a.Advice)
	if len(a.ActionSteps) > 0 {
		b.WriteString("\n" + sectionStyle.Render("Action steps") + "\n")
		for i, s := range a.ActionSteps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
	}
	if len(a.ConversationStarters) > 0 {
		b.WriteString("\n" + sectionStyle.Render(fmt.Sprintf("Ways to open the conversation with %s", a.PartnerName)) + "\n")
		for _, s := range a.ConversationStarters {
			fmt.Fprintf(&b, "- %q\n", s)
		}
	}
	fmt.Fprintln(w, cardStyle.Render(strings.TrimRight(b.String(), "\n")))
	if !a.ExpiresAt.IsZero() {
		faintLabel.Fprintf(w, "Available until %s\n", a.ExpiresAt.Local().Format("2006-01-02 15:04 MST"))
	}
}

func printSessions(w io.Writer, sessions []api.SessionSummary) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions")
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SESSION", "ROLE", "WITH", "STATUS", "EXPIRES")
	for _, s := range sessions {
		with := s.PartnerName
		if s.Role == api.RolePartner {
			with = s.CreatorName
		}
		t.Row(s.SessionID, s.Role, with, s.Status, humanizeUntil(time.Until(s.ExpiresAt)))
	}
	fmt.Fprintln(w, t.Render())
}

func humanizeUntil(d time.Duration) string {
	switch {
	case d <= 0:
		return "expired"
	case d < time.Hour:
		return fmt.Sprintf("in %dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("in %dh", int(d.Hours()))
	}
}

func stateLabel(state string) string {
	switch state {
	case api.StateReady:
		return okLabel.Sprint(state)
	case api.StateProcessing:
		return headingLabel.Sprint(state)
	}
	return faintLabel.Sprint(state)
}

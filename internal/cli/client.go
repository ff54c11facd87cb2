package cli

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bondly/bondly/pkg/api"
)

func newClient() (*api.Client, error) {
	cfg := GetConfig()
	if cfg == nil || cfg.ServerURL == "" {
		return nil, errors.New("no server configured")
	}
	return api.NewClient(cfg.ServerURL, api.WithToken(cfg.GetToken()))
}

// commandContext is cancelled on interrupt.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// parseShareToken accepts a bare share token or a share link ending in
// /partner/<token>.
func parseShareToken(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("share token is required")
	}
	if !strings.Contains(s, "/") {
		return s, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid share link: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(parts) - 2; i >= 0; i-- {
		if parts[i] == "partner" && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("share link %q does not contain a partner token", s)
}

// describeError turns known server error codes into advice for the user.
func describeError(err error) error {
	switch api.ErrorCode(err) {
	case "QUOTA_EXCEEDED":
		return fmt.Errorf("the advice service is busy right now, try again in a minute: %w", err)
	case "ALREADY_ANALYZED":
		return fmt.Errorf("this session already has advice: %w", err)
	case "INSUFFICIENT_RESPONSES", "MISSING_ROLE":
		return fmt.Errorf("both partners need to answer first: %w", err)
	}
	return err
}

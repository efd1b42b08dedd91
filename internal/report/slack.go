package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/IliaW/portal-checker/config"
	"github.com/slack-go/slack"
)

type Slack struct {
	cfg  *config.SlackConfig
	log  *slog.Logger
	post func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

func NewSlack(cfg *config.SlackConfig, log *slog.Logger) *Slack {
	return &Slack{cfg: cfg, log: log, post: slack.PostWebhookContext}
}

// Message builds the webhook payload for a check that exited with status.
// On failure the content of file is the message body.
func Message(name string, status int, file string) (*slack.WebhookMessage, error) {
	if status == 0 {
		return &slack.WebhookMessage{Username: name, IconEmoji: ":frog:", Text: fmt.Sprintf("%s OK", name)}, nil
	}
	errs, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read error file: %w", err)
	}

	return &slack.WebhookMessage{
		Username:  name,
		IconEmoji: ":crab:",
		Text:      fmt.Sprintf("*** %s ERROR:\n%s", name, errs),
	}, nil
}

func (s *Slack) Report(ctx context.Context, name string, status int, file string) error {
	url := s.cfg.OkURL
	if status == 0 {
		s.log.Info("check was OK.", slog.String("name", name))
	} else {
		s.log.Info("check was NOK.", slog.String("name", name))
		url = s.cfg.ErrorURL
	}
	if url == "" {
		return errors.New("slack webhook url is not configured")
	}
	msg, err := Message(name, status, file)
	if err != nil {
		return err
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	if err = s.post(ctx, url, msg); err != nil {
		return fmt.Errorf("failed to post to slack: %w", err)
	}
	s.log.Debug("slack message sent.")

	return nil
}

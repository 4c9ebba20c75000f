package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/appointly/appointly/jobs"
)

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, msg jobs.SendEmailPayload) error
}

// Enqueuer is the slice of jobs.Client used by QueueMailer.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error)
}

// QueueMailer hands messages to the background worker.
type QueueMailer struct {
	queue Enqueuer
}

// NewQueueMailer wraps a job client.
func NewQueueMailer(queue Enqueuer) *QueueMailer {
	return &QueueMailer{queue: queue}
}

// Send enqueues msg as a mail:send task.
func (m *QueueMailer) Send(ctx context.Context, msg jobs.SendEmailPayload) error {
	if _, err := m.queue.EnqueueSendEmail(ctx, msg); err != nil {
		return fmt.Errorf("auth: enqueue %s email: %w", msg.Kind, err)
	}
	return nil
}

func link(base, path, token string) string {
	base = strings.TrimRight(base, "/")
	return base + path + "?token=" + url.QueryEscape(token)
}

func passwordResetEmail(to, name, frontendURL, token string) jobs.SendEmailPayload {
	target := link(frontendURL, "/reset-password", token)
	return jobs.SendEmailPayload{
		To:      to,
		Subject: "Reset your password",
		Kind:    string(PurposePasswordReset),
		Text: fmt.Sprintf("Hi %s,\n\nWe received a request to reset your password. "+
			"Open the link below within the next hour to choose a new one:\n\n%s\n\n"+
			"If you did not ask for this, you can ignore this email.\n", greetingName(name), target),
	}
}

func verificationEmail(to, name, frontendURL, token string, purpose Purpose) jobs.SendEmailPayload {
	target := link(frontendURL, "/verify-email", token)
	subject := "Verify your email address"
	intro := "Please confirm your email address by opening the link below:"
	if purpose == PurposeAccountVerification {
		subject = "Welcome to Appointly"
		intro = "Thanks for signing up. Confirm your email address to finish setting up your account:"
	}
	return jobs.SendEmailPayload{
		To:      to,
		Subject: subject,
		Kind:    string(purpose),
		Text:    fmt.Sprintf("Hi %s,\n\n%s\n\n%s\n\nThe link expires in 24 hours.\n", greetingName(name), intro, target),
	}
}

func greetingName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "there"
}

package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
	// Kind tags the message for logs, e.g. "password_reset".
	Kind string `json:"kind,omitempty"`
}

// Validate reports payloads that can never be delivered.
func (p SendEmailPayload) Validate() error {
	switch {
	case strings.TrimSpace(p.To) == "":
		return errors.New("jobs: email recipient required")
	case strings.TrimSpace(p.Subject) == "":
		return errors.New("jobs: email subject required")
	case p.Text == "" && p.HTML == "":
		return errors.New("jobs: email body required")
	}
	return nil
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

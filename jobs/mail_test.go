package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/appointly/appointly/internal/jobs"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []SendEmailPayload
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg SendEmailPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func newMailJob(sender Sender) *MailJob {
	return NewMailJob(sender, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
}

func TestNewSendEmailTaskValidates(t *testing.T) {
	_, err := NewSendEmailTask(SendEmailPayload{Subject: "hi", Text: "body"})
	require.Error(t, err)
	_, err = NewSendEmailTask(SendEmailPayload{To: "a@example.com", Text: "body"})
	require.Error(t, err)
	_, err = NewSendEmailTask(SendEmailPayload{To: "a@example.com", Subject: "hi"})
	require.Error(t, err)

	task, err := NewSendEmailTask(SendEmailPayload{To: "a@example.com", Subject: "hi", HTML: "<p>x</p>", Kind: "welcome"})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeSendEmail, task.Type())

	var decoded SendEmailPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, "welcome", decoded.Kind)
}

func TestMailJobDelivers(t *testing.T) {
	sender := &recordingSender{}
	task, err := NewSendEmailTask(SendEmailPayload{To: "a@example.com", Subject: "Reset", Text: "token"})
	require.NoError(t, err)

	require.NoError(t, newMailJob(sender).Handle(context.Background(), task))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Reset", sender.sent[0].Subject)
}

func TestMailJobSkipsRetryForBadPayload(t *testing.T) {
	sender := &recordingSender{}
	job := newMailJob(sender)

	err := job.Handle(context.Background(), asynq.NewTask(TaskTypeSendEmail, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskTypeSendEmail, []byte(`{"to":"","subject":"x","text":"y"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, sender.sent)
}

func TestMailJobReturnsDeliveryErrors(t *testing.T) {
	boom := errors.New("relay refused")
	task, err := NewSendEmailTask(SendEmailPayload{To: "a@example.com", Subject: "s", Text: "t"})
	require.NoError(t, err)

	err = newMailJob(&recordingSender{err: boom}).Handle(context.Background(), task)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestMailJobRequiresSender(t *testing.T) {
	var job *MailJob
	require.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskTypeSendEmail, nil)))
}

func TestLogSenderNeverFails(t *testing.T) {
	require.NoError(t, LogSender{}.Send(context.Background(), SendEmailPayload{To: "a@example.com"}))
}

func TestHealthWithoutInspector(t *testing.T) {
	h := NewHandler(nil, nil)
	rr := httptest.NewRecorder()
	h.health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"retry":0}`, rr.Body.String())
}

package mailer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/riverqueue/river"
)

type captureSender struct {
	to, subject, body string
	err               error
}

func (s *captureSender) Send(_ context.Context, to, subject, body string) error {
	s.to, s.subject, s.body = to, subject, body
	return s.err
}

func TestSendEmailWorker_RendersPasswordReset(t *testing.T) {
	sender := &captureSender{}
	w := NewSendEmailWorker(sender, nil)

	job := &river.Job[SendEmailArgs]{Args: SendEmailArgs{
		To:       "a@x.com",
		Template: TemplatePasswordReset,
		Data:     map[string]string{"username": "a1", "token": "deadbeef"},
	}}
	if err := w.Work(context.Background(), job); err != nil {
		t.Fatalf("work: %v", err)
	}
	if sender.to != "a@x.com" {
		t.Errorf("to = %q", sender.to)
	}
	if !strings.Contains(sender.body, "deadbeef") || !strings.Contains(sender.body, "a1") {
		t.Errorf("body missing token or username: %q", sender.body)
	}
}

func TestSendEmailWorker_SendFailurePropagatesForRetry(t *testing.T) {
	cause := errors.New("smtp down")
	w := NewSendEmailWorker(&captureSender{err: cause}, nil)

	job := &river.Job[SendEmailArgs]{Args: SendEmailArgs{To: "a@x.com", Template: TemplateVerifyEmail}}
	err := w.Work(context.Background(), job)
	if !errors.Is(err, cause) {
		t.Errorf("err = %v, want the sender failure wrapped for retry", err)
	}
}

func TestSendEmailWorker_UnknownTemplateDoesNotSend(t *testing.T) {
	sender := &captureSender{}
	w := NewSendEmailWorker(sender, nil)

	job := &river.Job[SendEmailArgs]{Args: SendEmailArgs{To: "a@x.com", Template: "marketing_blast"}}
	if err := w.Work(context.Background(), job); err == nil {
		t.Fatal("want an error for an unknown template")
	}
	if sender.to != "" {
		t.Error("unknown template reached the sender")
	}
}

func TestRender_VerifyEmail(t *testing.T) {
	subject, body, err := render(TemplateVerifyEmail, map[string]string{"username": "a1", "token": "feedface"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subject == "" || !strings.Contains(body, "a1") || !strings.Contains(body, "feedface") {
		t.Errorf("subject = %q, body = %q", subject, body)
	}
}

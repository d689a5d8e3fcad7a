package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
)

// Email templates the worker knows how to render.
const (
	TemplatePasswordReset = "password_reset"
	TemplateVerifyEmail   = "verify_email"
)

// SendEmailArgs is the river job payload for one outbound email.
type SendEmailArgs struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
}

func (SendEmailArgs) Kind() string { return "send_email" }

// Sender delivers a rendered email. Production wires an ESP client here;
// development runs the log sender.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SendEmailWorker renders and delivers queued emails.
type SendEmailWorker struct {
	river.WorkerDefaults[SendEmailArgs]
	sender Sender
	log    *slog.Logger
}

func NewSendEmailWorker(sender Sender, log *slog.Logger) *SendEmailWorker {
	if log == nil {
		log = slog.Default()
	}
	return &SendEmailWorker{sender: sender, log: log}
}

func (w *SendEmailWorker) Work(ctx context.Context, job *river.Job[SendEmailArgs]) error {
	args := job.Args
	subject, body, err := render(args.Template, args.Data)
	if err != nil {
		w.log.Error("email render failed", "template", args.Template, "error", err)
		return river.JobCancel(err)
	}
	if err := w.sender.Send(ctx, args.To, subject, body); err != nil {
		// Returning the error lets river retry with backoff.
		return fmt.Errorf("send %s email: %w", args.Template, err)
	}
	w.log.Info("email sent", "template", args.Template, "to", args.To)
	return nil
}

func render(template string, data map[string]string) (subject, body string, err error) {
	switch template {
	case TemplatePasswordReset:
		return "Reset your AgriAssist password",
			fmt.Sprintf("Hello %s,\n\nUse this token to reset your password within the next hour: %s\n\nIf you did not request a reset, ignore this message.",
				data["username"], data["token"]),
			nil
	case TemplateVerifyEmail:
		return "Welcome to AgriAssist",
			fmt.Sprintf("Hello %s,\n\nYour account is ready. Use this token to verify your email address and unlock crop recommendations: %s",
				data["username"], data["token"]),
			nil
	}
	return "", "", fmt.Errorf("unknown email template %q", template)
}

// LogSender writes emails to the log instead of delivering them.
type LogSender struct {
	Log *slog.Logger
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("outbound email", "to", to, "subject", subject, "bytes", len(body))
	return nil
}

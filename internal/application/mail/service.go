// Package mail sends one-time verification codes by e-mail.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
)

const (
	KindInvalidArgument = "invalid-argument"
	KindInternal        = "internal"

	verificationSubject = "Your EcoThreads Verification Code"
)

// CallError is the error shape returned to callers of the e-mail operation.
type CallError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *CallError) Error() string { return e.Kind + ": " + e.Message }

// EmailResult reports a delivered message.
type EmailResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

type Service interface {
	SendVerificationEmail(ctx context.Context, address, code string) (EmailResult, error)
}

type htmlSender interface {
	SendHTML(ctx context.Context, to, subject, html string) (string, error)
}

var verificationTmpl = template.Must(template.New("verification").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Verify Your Email</h2>
  <p>Thank you for registering with EcoThreads. Your verification code is:</p>
  <div style="background-color: #f5f5f5; padding: 20px; text-align: center; margin: 20px 0;">
    <h1 style="font-size: 32px; letter-spacing: 5px; margin: 0;">{{.Code}}</h1>
  </div>
  <p>This code will expire in 5 minutes.</p>
  <p>If you didn't request this code, please ignore this email.</p>
  <hr style="margin: 20px 0;">
  <p style="color: #666; font-size: 12px;">This is an automated message, please do not reply.</p>
</div>`))

type service struct {
	mailer htmlSender
}

// NewService returns the e-mail service. A nil mailer means the transport
// could not be initialised; every call then fails with an internal error.
func NewService(mailer htmlSender) Service {
	return &service{mailer: mailer}
}

func (s *service) SendVerificationEmail(ctx context.Context, address, code string) (EmailResult, error) {
	address, code = strings.TrimSpace(address), strings.TrimSpace(code)
	if address == "" || code == "" {
		return EmailResult{}, &CallError{Kind: KindInvalidArgument, Message: "Email and OTP are required"}
	}
	if s.mailer == nil {
		return EmailResult{}, internalError(fmt.Errorf("mailer not configured"))
	}

	var body bytes.Buffer
	if err := verificationTmpl.Execute(&body, struct{ Code string }{code}); err != nil {
		return EmailResult{}, internalError(err)
	}
	messageID, err := s.mailer.SendHTML(ctx, address, verificationSubject, body.String())
	if err != nil {
		slog.Error("verification email failed", "err", err)
		return EmailResult{}, internalError(err)
	}
	slog.Info("verification email sent", "message_id", messageID)
	return EmailResult{Success: true, MessageID: messageID}, nil
}

func internalError(err error) *CallError {
	return &CallError{Kind: KindInternal, Message: "Email service error: " + err.Error()}
}

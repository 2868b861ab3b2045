package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for alert delivery.
var (
	ErrNotifyFailure   = errors.New("notify failure")
	ErrAlreadyNotified = errors.New("recipient already notified")
)

// Mailer defines the contract for sending emails (infrastructure port).
type Mailer interface {
	Send(ctx context.Context, to, subject, html, text string) error
}

// EmailTemplateRenderer renders email content from a named template with the given data.
type EmailTemplateRenderer interface {
	Render(templateName string, data any) (subject, htmlBody, textBody string, err error)
}

// Tier is an age based eligibility class.
type Tier string

const (
	Tier18to44 Tier = "18-44"
	Tier45Plus Tier = "45+"
)

// Notification is the payload of one availability alert.
type Notification struct {
	Tier     Tier
	Location Location
	Date     string
	Centers  []Center
}

// AlertEmailData holds data for the vaccine alert email.
type AlertEmailData struct {
	Email          string
	Tier           Tier
	Location       Location
	Date           string
	Centers        []Center
	UnsubscribeURL string
}

// NotifyError is returned when one recipient could not be alerted.
type NotifyError struct {
	Recipient string
	Kind      FailureKind
	Err       error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify %s: %s: %v", e.Recipient, e.Kind, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// Is makes every NotifyError match ErrNotifyFailure.
func (e *NotifyError) Is(target error) bool { return target == ErrNotifyFailure }

// RecipientFailure pairs a recipient with its delivery error.
type RecipientFailure struct {
	Recipient string
	Err       error
}

// NotifyResult is the per-recipient outcome of a NotifyAll call.
type NotifyResult struct {
	Sent         []string
	Deduplicated []string
	Failures     []RecipientFailure
}

// Notifier delivers availability alerts.
type Notifier interface {
	// Notify alerts one recipient. It returns ErrAlreadyNotified when the
	// same alert was delivered recently.
	Notify(ctx context.Context, recipient string, n Notification) error
	// NotifyAll alerts every recipient; one failure never stops the rest.
	NotifyAll(ctx context.Context, recipients []string, n Notification) NotifyResult
}

package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"vaccinealert/internal/domain"
)

const alertTemplate = "vaccine_alert"

// NotifierConfig tunes alert delivery.
type NotifierConfig struct {
	SendTimeout        time.Duration
	DedupTTL           time.Duration
	UnsubscribeBaseURL string
	UnsubscribeExpiry  time.Duration
}

type notifier struct {
	logger   *slog.Logger
	mailer   domain.Mailer
	renderer domain.EmailTemplateRenderer
	claimer  domain.Claimer
	tokens   domain.TokenIssuer
	cfg      NotifierConfig
}

// NewNotifier returns a Notifier that renders the vaccine alert template and
// sends it through mailer. claimer and tokens are optional: without a claimer
// every alert is sent, without a token issuer emails carry no unsubscribe link.
func NewNotifier(logger *slog.Logger, mailer domain.Mailer, renderer domain.EmailTemplateRenderer, claimer domain.Claimer, tokens domain.TokenIssuer, cfg NotifierConfig) domain.Notifier {
	return &notifier{
		logger:   logger,
		mailer:   mailer,
		renderer: renderer,
		claimer:  claimer,
		tokens:   tokens,
		cfg:      cfg,
	}
}

func (s *notifier) Notify(ctx context.Context, recipient string, n domain.Notification) error {
	key := DedupKey(recipient, n)
	claimed := false
	if s.claimer != nil && s.cfg.DedupTTL > 0 {
		ok, err := s.claimer.Claim(ctx, key, s.cfg.DedupTTL)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "dedup claim failed, sending anyway", "recipient", recipient, "err", err)
		case !ok:
			return domain.ErrAlreadyNotified
		default:
			claimed = true
		}
	}

	data := &domain.AlertEmailData{
		Email:          recipient,
		Tier:           n.Tier,
		Location:       n.Location,
		Date:           n.Date,
		Centers:        n.Centers,
		UnsubscribeURL: s.unsubscribeURL(recipient),
	}
	subject, htmlBody, textBody, err := s.renderer.Render(alertTemplate, data)
	if err != nil {
		s.release(ctx, claimed, key)
		return &domain.NotifyError{Recipient: recipient, Kind: domain.FailureRender, Err: fmt.Errorf("render %s template: %w", alertTemplate, err)}
	}

	sendCtx := ctx
	if s.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
	}
	if err := s.mailer.Send(sendCtx, recipient, subject, htmlBody, textBody); err != nil {
		s.release(ctx, claimed, key)
		return &domain.NotifyError{Recipient: recipient, Kind: domain.FailureNotify, Err: err}
	}

	s.logger.InfoContext(ctx, "alert sent",
		"recipient", recipient,
		"tier", string(n.Tier),
		"location", n.Location.String(),
		"centers", len(n.Centers),
	)
	return nil
}

func (s *notifier) NotifyAll(ctx context.Context, recipients []string, n domain.Notification) domain.NotifyResult {
	var result domain.NotifyResult
	for _, recipient := range recipients {
		if err := ctx.Err(); err != nil {
			result.Failures = append(result.Failures, domain.RecipientFailure{
				Recipient: recipient,
				Err:       &domain.NotifyError{Recipient: recipient, Kind: domain.FailureCancelled, Err: err},
			})
			continue
		}
		err := s.Notify(ctx, recipient, n)
		switch {
		case err == nil:
			result.Sent = append(result.Sent, recipient)
		case errors.Is(err, domain.ErrAlreadyNotified):
			result.Deduplicated = append(result.Deduplicated, recipient)
		default:
			result.Failures = append(result.Failures, domain.RecipientFailure{Recipient: recipient, Err: err})
		}
	}
	return result
}

func (s *notifier) release(ctx context.Context, claimed bool, key string) {
	if !claimed {
		return
	}
	if err := s.claimer.Release(context.WithoutCancel(ctx), key); err != nil {
		s.logger.WarnContext(ctx, "dedup release failed", "key", key, "err", err)
	}
}

func (s *notifier) unsubscribeURL(recipient string) string {
	if s.tokens == nil || s.cfg.UnsubscribeBaseURL == "" {
		return ""
	}
	token, err := s.tokens.Issue(recipient, domain.AudienceUnsubscribe, s.cfg.UnsubscribeExpiry)
	if err != nil {
		s.logger.Warn("issue unsubscribe token failed", "recipient", recipient, "err", err)
		return ""
	}
	return strings.TrimRight(s.cfg.UnsubscribeBaseURL, "/") + "/alerts/unsubscribe?token=" + url.QueryEscape(token)
}

// DedupKey identifies one alert for one recipient. Two notifications listing
// the same centers for the same tier and location share a key, whatever the
// order of the centers.
func DedupKey(recipient string, n domain.Notification) string {
	ids := make([]string, 0, len(n.Centers))
	for _, c := range n.Centers {
		ids = append(ids, strconv.Itoa(c.CenterID)+"/"+c.Name)
	}
	slices.Sort(ids)

	h := sha256.New()
	h.Write([]byte(string(n.Tier)))
	h.Write([]byte{0})
	h.Write([]byte(n.Location.String()))
	for _, id := range ids {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	sum := h.Sum(nil)
	return "alert:" + strings.ToLower(strings.TrimSpace(recipient)) + ":" + hex.EncodeToString(sum[:12])
}

// Package alerts delivers operator notifications over SMTP. Alerting is
// best effort: a failed mail never fails the pipeline work that raised
// it.
package alerts

import (
	"context"
	"fmt"
	"time"

	"cobranca_backend/platform/config"
	"cobranca_backend/platform/logger"

	gomail "github.com/wneessen/go-mail"
)

type Mailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       string
	log      *logger.Logger
}

// NewMailer returns nil when SMTP is not configured. All methods are
// nil-safe no-ops in that case.
func NewMailer(cfg config.AlertConfig, log *logger.Logger) *Mailer {
	if !cfg.IsAlertingEnabled() {
		return nil
	}

	return &Mailer{
		host:     cfg.GetSMTPHost(),
		port:     cfg.GetSMTPPort(),
		username: cfg.GetSMTPUsername(),
		password: cfg.GetSMTPPassword(),
		from:     cfg.GetAlertFromAddress(),
		to:       cfg.GetAlertToAddress(),
		log:      log,
	}
}

// JobExhausted notifies operators that a job burned through every
// broker-level retry and landed in the dead-letter archive.
func (m *Mailer) JobExhausted(ctx context.Context, taskType, taskID string, lastErr error) {
	subject := fmt.Sprintf("[cobranca] job exhausted: %s", taskType)
	body := fmt.Sprintf(
		"Task %s (id %s) exhausted its broker retries and was archived.\n\nLast error:\n%v\n",
		taskType, taskID, lastErr,
	)
	m.send(ctx, subject, body)
}

// SyncFailed notifies operators that a campaign's CRM sync run failed.
func (m *Mailer) SyncFailed(ctx context.Context, campaignID string, runErr error) {
	subject := "[cobranca] CRM sync failed"
	body := fmt.Sprintf("CRM sync for campaign %s failed:\n%v\n", campaignID, runErr)
	m.send(ctx, subject, body)
}

func (m *Mailer) send(ctx context.Context, subject, body string) {
	if m == nil {
		return
	}

	msg := gomail.NewMsg()
	if err := msg.From(m.from); err != nil {
		m.log.Error("alert mail from invalid", "error", err.Error())
		return
	}
	if err := msg.To(m.to); err != nil {
		m.log.Error("alert mail to invalid", "error", err.Error())
		return
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	opts := []gomail.Option{
		gomail.WithPort(m.port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
	}
	if m.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.username),
			gomail.WithPassword(m.password),
		)
	}

	client, err := gomail.NewClient(m.host, opts...)
	if err != nil {
		m.log.Error("alert mail client", "error", err.Error())
		return
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		m.log.Error("alert mail send failed", "subject", subject, "error", err.Error())
	}
}

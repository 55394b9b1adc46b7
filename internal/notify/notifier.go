// Package notify delivers terminal-state campaign emails over SMTP.
// Delivery is best effort: a failed or unconfigured send never affects
// the run that triggered it.
package notify

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"leadpilot/internal/campaign"
	"leadpilot/internal/config"
)

// Mailer is a seam for the SMTP dialer.
type Mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Notifier composes and sends run notifications. A notifier built
// without SMTP settings stays usable and reports every send as
// skipped.
type Notifier struct {
	mailer Mailer
	from   string
	logger *zap.Logger
}

// New builds a notifier from config. Missing SMTP settings yield a
// disabled notifier, not an error.
func New(cfg *config.Config, logger *zap.Logger) *Notifier {
	n := &Notifier{from: cfg.NotifyFrom, logger: logger}
	if cfg.SMTPHost == "" || cfg.NotifyFrom == "" {
		logger.Info("email notifications disabled, SMTP not configured")
		return n
	}
	n.mailer = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	return n
}

// Send delivers one email. Returns false when delivery was skipped or
// failed.
func (n *Notifier) Send(to, subject, text, html string) bool {
	if n.mailer == nil {
		n.logger.Warn("notification skipped, SMTP not configured",
			zap.String("to", to), zap.String("subject", subject))
		return false
	}
	if to == "" {
		return false
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", text)
	if html != "" {
		m.AddAlternative("text/html", html)
	}

	if err := n.mailer.DialAndSend(m); err != nil {
		n.logger.Error("notification send failed",
			zap.String("to", to), zap.String("subject", subject), zap.Error(err))
		return false
	}
	n.logger.Info("notification sent",
		zap.String("to", to), zap.String("subject", subject))
	return true
}

// RunCompleted sends the completion summary when the campaign has an
// onComplete target. Partial runs go to the same target with their
// failed steps listed.
func (n *Notifier) RunCompleted(c *campaign.Campaign, r *campaign.Run) bool {
	target := completeTarget(c)
	if target == "" {
		return false
	}
	subject := fmt.Sprintf("Campaign %q %s", c.Name, r.Status)
	text, html := runSummary(c, r, "")
	return n.Send(target, subject, text, html)
}

// RunFailed sends the failure report when the campaign has an onFailure
// target. budgetExceeded switches the subject so budget pauses stand
// out from step failures.
func (n *Notifier) RunFailed(c *campaign.Campaign, r *campaign.Run, errMsg string, budgetExceeded bool) bool {
	target := failureTarget(c)
	if target == "" {
		return false
	}
	subject := fmt.Sprintf("Campaign %q failed", c.Name)
	if budgetExceeded {
		subject = fmt.Sprintf("Campaign %q paused: budget exceeded", c.Name)
	}
	text, html := runSummary(c, r, errMsg)
	return n.Send(target, subject, text, html)
}

func completeTarget(c *campaign.Campaign) string {
	if nc := c.Config.Notifications; nc != nil && nc.OnComplete != nil {
		return nc.OnComplete.Email
	}
	return ""
}

func failureTarget(c *campaign.Campaign) string {
	if nc := c.Config.Notifications; nc != nil && nc.OnFailure != nil {
		return nc.OnFailure.Email
	}
	return ""
}

func runSummary(c *campaign.Campaign, r *campaign.Run, errMsg string) (text, html string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Campaign: %s\n", c.Name)
	fmt.Fprintf(&b, "Run:      %s\n", r.ID)
	fmt.Fprintf(&b, "Status:   %s\n", r.Status)
	fmt.Fprintf(&b, "Trigger:  %s\n", r.TriggerType)
	fmt.Fprintf(&b, "Started:  %s\n", r.StartedAt.Format(time.RFC3339))
	if r.CompletedAt != nil {
		fmt.Fprintf(&b, "Finished: %s\n", r.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Steps:    %d completed, %d failed\n", r.StepsCompleted, r.StepsFailed)
	fmt.Fprintf(&b, "Cost:     $%.4f\n", r.TotalCost)
	if errMsg != "" {
		fmt.Fprintf(&b, "\nError: %s\n", errMsg)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  - step %s: %s\n", e.Step, e.Error)
	}
	text = b.String()

	var h strings.Builder
	fmt.Fprintf(&h, "<h2>Campaign %s: %s</h2>", htmlEscape(c.Name), r.Status)
	fmt.Fprintf(&h, "<p>Run <code>%s</code> (%s trigger)</p>", r.ID, r.TriggerType)
	fmt.Fprintf(&h, "<p>%d steps completed, %d failed, cost $%.4f</p>",
		r.StepsCompleted, r.StepsFailed, r.TotalCost)
	if errMsg != "" {
		fmt.Fprintf(&h, "<p><strong>Error:</strong> %s</p>", htmlEscape(errMsg))
	}
	if len(r.Errors) > 0 {
		h.WriteString("<ul>")
		for _, e := range r.Errors {
			fmt.Fprintf(&h, "<li><code>%s</code>: %s</li>",
				htmlEscape(e.Step), htmlEscape(e.Error))
		}
		h.WriteString("</ul>")
	}
	return text, h.String()
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

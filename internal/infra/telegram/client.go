// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"pulse_tracker/internal/app"
	domaintelegram "pulse_tracker/internal/domain/telegram"
)

// TelebotAdapter implements the Client interface using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage sends a text message to the specified recipient.
func (tba *TelebotAdapter) SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error {
	if options == nil {
		options = &telebot.SendOptions{}
	}

	recipient := &telebot.User{ID: recipientChatID} // the admin talks to the bot in a private chat
	_, err := tba.bot.Send(recipient, text, options)
	return err
}

// AdminAlerter sends failed sweeps to the admin chat.
type AdminAlerter struct {
	client  domaintelegram.Client
	adminID int64
	logger  *logrus.Entry
}

func NewAdminAlerter(client domaintelegram.Client, adminID int64, logger *logrus.Entry) *AdminAlerter {
	return &AdminAlerter{
		client:  client,
		adminID: adminID,
		logger:  logger.WithField("component", "admin_alerter"),
	}
}

// NotifySweepFailures reports the failed tenants of one sweep. Delivery errors
// are logged only; alerts never affect the sweep.
func (a *AdminAlerter) NotifySweepFailures(ctx context.Context, report app.SweepReport) {
	text := formatAlert(report)
	if text == "" {
		return
	}
	if err := a.client.SendMessage(a.adminID, text, nil); err != nil {
		a.logger.WithError(err).WithField("run_id", report.RunID).Error("Failed to send sweep alert to admin")
	}
}

func formatAlert(r app.SweepReport) string {
	if r.Err != nil {
		return fmt.Sprintf("⚠️ Reconcile sweep %s could not list tenants: %v", r.RunID, r.Err)
	}
	var failed []string
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", o.Tenant, o.Err))
		}
	}
	if len(failed) == 0 {
		return ""
	}
	return domaintelegram.Truncate(fmt.Sprintf("⚠️ Reconcile sweep %s failed for %d tenant(s):\n%s", r.RunID, len(failed), strings.Join(failed, "\n")))
}

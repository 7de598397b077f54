package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"pulse_tracker/internal/app"
	idb "pulse_tracker/internal/infra/database"
)

const msgUnauthorized = "Error: you are not allowed to run this command."

// sweepButton is attached to day summaries so the admin can reconcile right away.
var sweepButton = telebot.InlineButton{Text: "Sweep now", Data: callbackSweepNow}

// RegisterAdminHandlers registers handlers for admin commands.
// It requires the bot instance, admin service, and the configured admin Telegram ID.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, adminTelegramID int64, baseLogger *logrus.Entry) {
	b.Handle("/pulse", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/pulse",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(msgUnauthorized)
		}

		schema, societyID, date, err := parsePulseArgs(c.Args())
		if err != nil {
			handlerLogger.WithError(err).Warn("Invalid command format")
			return c.Send(fmt.Sprintf("%v\nUsage: /pulse <schema> <society_id> [YYYY-MM-DD]", err))
		}
		handlerLogger = handlerLogger.WithFields(logrus.Fields{
			"tenant":     schema,
			"society_id": societyID,
		})

		p, err := adminService.SocietyPulse(ctx, c.Sender().ID, schema, societyID, date)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			switch {
			case errors.Is(err, app.ErrAdminNotAuthorized):
				logWithError.Warn("Admin not authorized (service level)")
				return c.Send(msgUnauthorized)
			case errors.Is(err, app.ErrUnknownTenant):
				logWithError.Warn("Unknown tenant")
				return c.Send(fmt.Sprintf("Unknown or inactive tenant %q.", schema))
			case errors.Is(err, idb.ErrPulseNotFound):
				return c.Send(fmt.Sprintf("Society %d has no section pulse for that day yet.", societyID))
			default:
				logWithError.Error("Failed to get section pulse")
				return c.Send(fmt.Sprintf("Failed to get the section pulse: %s", err.Error()))
			}
		}
		return c.Send(formatPulse(schema, p))
	})

	b.Handle("/pulses", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/pulses",
			"sender_id": c.Sender().ID,
		})
		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(msgUnauthorized)
		}

		schema, date, err := parsePulsesArgs(c.Args())
		if err != nil {
			handlerLogger.WithError(err).Warn("Invalid command format")
			return c.Send(fmt.Sprintf("%v\nUsage: /pulses <schema> [YYYY-MM-DD]", err))
		}
		handlerLogger = handlerLogger.WithField("tenant", schema)

		summary, err := adminService.DaySummary(ctx, c.Sender().ID, schema, date)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			switch {
			case errors.Is(err, app.ErrAdminNotAuthorized):
				logWithError.Warn("Admin not authorized (service level)")
				return c.Send(msgUnauthorized)
			case errors.Is(err, app.ErrUnknownTenant):
				logWithError.Warn("Unknown tenant")
				return c.Send(fmt.Sprintf("Unknown or inactive tenant %q.", schema))
			default:
				logWithError.Error("Failed to summarise section pulses")
				return c.Send(fmt.Sprintf("Failed to get the day summary: %s", err.Error()))
			}
		}

		handlerLogger.WithField("societies", summary.Societies).Info("Day summary sent")
		markup := &telebot.ReplyMarkup{InlineKeyboard: [][]telebot.InlineButton{{sweepButton}}}
		return c.Send(formatSummary(schema, summary), markup)
	})

	b.Handle("/sweep", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/sweep",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")
		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(msgUnauthorized)
		}

		report, err := adminService.TriggerSweep(ctx, c.Sender().ID)
		if err != nil {
			handlerLogger.WithError(err).Error("Manual sweep failed")
			return c.Send(fmt.Sprintf("Sweep failed: %s", err.Error()))
		}
		handlerLogger.WithField("run_id", report.RunID).Info("Manual sweep finished")
		return c.Send(formatSweep(report))
	})
}

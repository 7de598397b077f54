// internal/infra/telegram/sweep_callback_handlers.go
package telegram

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/telebot.v3"

	"pulse_tracker/internal/app"
)

const callbackSweepNow = "sweep_now"

func RegisterSweepCallbackHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService) {
	b.Handle(telebot.OnCallback, func(c telebot.Context) error {
		data := c.Callback().Data

		if data == callbackSweepNow {
			report, err := adminService.TriggerSweep(ctx, c.Sender().ID)
			if err != nil {
				c.Bot().OnError(fmt.Errorf("error running sweep from callback: %w", err), c)
				if errors.Is(err, app.ErrAdminNotAuthorized) {
					return c.Respond(&telebot.CallbackResponse{Text: msgUnauthorized})
				}
				return c.Respond(&telebot.CallbackResponse{Text: "Sweep failed."})
			}
			_, failed, _ := report.Counts()
			if err := c.Respond(&telebot.CallbackResponse{Text: fmt.Sprintf("Sweep done, %d tenant(s) failed.", failed)}); err != nil {
				return err
			}
			return c.Send(formatSweep(report))
		}

		// Fallback for unhandled callbacks by this specific handler.
		c.Bot().OnError(fmt.Errorf("unhandled callback data: %s", data), c)
		return c.Respond(&telebot.CallbackResponse{Text: "Unknown action."})
	})
}

// Package bot is the Telegram front end: it feeds inbound text into the
// dialogue engine and renders its replies (markdown, reply keyboards). It
// also delivers scheduled reminder reports.
package bot

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"github.com/nescohelper/meter-bot/internal/dialogue"
	"github.com/nescohelper/meter-bot/internal/logger"
	"github.com/nescohelper/meter-bot/internal/model"
)

type Bot struct {
	tb  *telebot.Bot
	dlg *dialogue.Engine
	log *logrus.Logger
}

func New(token string, dlg *dialogue.Engine, log *logrus.Logger) (*Bot, error) {
	settings := telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	}
	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, err
	}

	b := &Bot{tb: tb, dlg: dlg, log: log}
	b.registerHandlers()
	return b, nil
}

func (b *Bot) registerHandlers() {
	commands := []string{
		"/start", "/help", "/add", "/list", "/check",
		"/remove", "/minbalance", "/reminder", "/cancel",
	}
	for _, command := range commands {
		b.tb.Handle(command, b.handleUpdate)
	}
	// non-command text: dialogue input and unregistered commands
	b.tb.Handle(telebot.OnText, b.handleUpdate)
}

func (b *Bot) handleUpdate(ctx telebot.Context) error {
	sender := ctx.Sender()
	if sender == nil {
		return nil
	}

	replies := b.dlg.HandleMessage(context.Background(), sender.ID, sender.Username, ctx.Text())
	for _, reply := range replies {
		if err := b.send(sender, reply); err != nil {
			logger.WithUser(b.log, sender.ID).WithError(err).Error("error sending reply")
			return nil
		}
	}
	return nil
}

func (b *Bot) send(to telebot.Recipient, reply dialogue.Reply) error {
	opts := &telebot.SendOptions{}
	if reply.Markdown {
		opts.ParseMode = telebot.ModeMarkdown
	}

	switch {
	case len(reply.Keyboard) > 0:
		markup := &telebot.ReplyMarkup{
			ResizeKeyboard:  true,
			OneTimeKeyboard: true,
		}
		rows := make([][]telebot.ReplyButton, 0, len(reply.Keyboard))
		for _, row := range reply.Keyboard {
			buttons := make([]telebot.ReplyButton, 0, len(row))
			for _, label := range row {
				buttons = append(buttons, telebot.ReplyButton{Text: label})
			}
			rows = append(rows, buttons)
		}
		markup.ReplyKeyboard = rows
		opts.ReplyMarkup = markup
	case reply.RemoveKeyboard:
		opts.ReplyMarkup = &telebot.ReplyMarkup{RemoveKeyboard: true}
	}

	_, err := b.tb.Send(to, reply.Text, opts)
	return err
}

// SendBalanceReport pushes a sweep report outside a dialogue, used by the
// reminder scheduler.
func (b *Bot) SendBalanceReport(telegramUserID int64, statuses []model.MeterStatus) error {
	report := dialogue.BuildBalanceReport(statuses)
	_, err := b.tb.Send(&telebot.User{ID: telegramUserID}, report,
		&telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	return err
}

func (b *Bot) Start() {
	b.tb.Start()
}

func (b *Bot) Stop() {
	b.tb.Stop()
}

// Package dialogue drives the per-user configuration flows. It is
// transport-agnostic: inbound is (user, text), outbound is an ordered list
// of replies the front end renders.
package dialogue

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nescohelper/meter-bot/internal/intent"
	"github.com/nescohelper/meter-bot/internal/model"
)

// Reply is one outbound message. Keyboard rows render as a one-time reply
// keyboard; RemoveKeyboard clears a previously sent one.
type Reply struct {
	Text           string
	Markdown       bool
	Keyboard       [][]string
	RemoveKeyboard bool
}

type Store interface {
	GetOrCreateUser(ctx context.Context, telegramUserID int64, username string) (*model.User, error)
	MetersByUser(ctx context.Context, userID int64) ([]model.Meter, error)
	ToggleReminder(ctx context.Context, userID int64) (bool, error)
	DeleteMeter(ctx context.Context, userID, meterID int64) error
}

type BalanceEngine interface {
	VerifyAndRegister(ctx context.Context, userID int64, number, name string) (*model.Meter, error)
	Sweep(ctx context.Context, userID int64) ([]model.MeterStatus, error)
	SetThreshold(ctx context.Context, meterID int64, minBalance float64) (*model.Meter, error)
}

// Interpreter is the optional free-text classifier. A nil result means "no
// opinion" and never blocks the explicit command path.
type Interpreter interface {
	Interpret(ctx context.Context, text string, meters []model.Meter) *intent.Intent
}

type Engine struct {
	store   Store
	balance BalanceEngine
	intent  Interpreter
	log     *logrus.Logger

	mu       sync.Mutex
	sessions map[int64]*model.UserSession
}

func New(store Store, balance BalanceEngine, interpreter Interpreter, log *logrus.Logger) *Engine {
	return &Engine{
		store:    store,
		balance:  balance,
		intent:   interpreter,
		log:      log,
		sessions: make(map[int64]*model.UserSession),
	}
}

const msgInternalError = "❌ Something went wrong. Please try again later."

// HandleMessage routes one inbound message: commands first, then the active
// dialogue session, then the optional intent classifier. Starting a flow
// while another is active overwrites the stale session (last command wins).
func (e *Engine) HandleMessage(ctx context.Context, telegramUserID int64, username, text string) []Reply {
	text = strings.TrimSpace(text)

	user, err := e.store.GetOrCreateUser(ctx, telegramUserID, username)
	if err != nil {
		e.log.WithField("userId", telegramUserID).WithError(err).Error("error resolving user")
		return []Reply{{Text: msgInternalError}}
	}

	if strings.HasPrefix(text, "/") {
		return e.handleCommand(ctx, user, text)
	}

	if session := e.session(user.TelegramUserID); session != nil {
		return e.handleSessionInput(ctx, user, session, text)
	}

	return e.handleFreeText(ctx, user, text)
}

func (e *Engine) handleCommand(ctx context.Context, user *model.User, text string) []Reply {
	command := strings.Fields(text)[0]
	// strip the bot-mention suffix of group commands, e.g. /check@SomeBot
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}

	switch command {
	case "/start":
		return e.handleStart()
	case "/help":
		return e.handleHelp()
	case "/add":
		return e.startAddFlow(user)
	case "/list":
		return e.handleList(ctx, user)
	case "/check":
		return e.handleCheck(ctx, user)
	case "/remove":
		return e.startRemoveFlow(ctx, user)
	case "/minbalance":
		return e.startMinBalanceFlow(ctx, user)
	case "/reminder":
		return e.handleToggleReminder(ctx, user)
	case "/cancel":
		return e.handleCancel(user)
	default:
		return []Reply{{Text: "Unknown command. Type /help for the list of commands."}}
	}
}

func (e *Engine) handleSessionInput(ctx context.Context, user *model.User, session *model.UserSession, text string) []Reply {
	switch session.State {
	case model.StateAddAwaitingNumber:
		return e.handleAddNumber(user, session, text)
	case model.StateAddAwaitingName:
		return e.handleAddName(ctx, user, session, text)
	case model.StateMinAwaitingChoice:
		return e.handleMinBalanceChoice(user, session, text)
	case model.StateMinAwaitingAmount:
		return e.handleMinBalanceAmount(ctx, user, session, text)
	case model.StateRemoveAwaitingChoice:
		return e.handleRemoveChoice(ctx, user, session, text)
	default:
		// unreachable state tags are cleared, never left stuck
		e.clearSession(user.TelegramUserID)
		return []Reply{{Text: msgInternalError}}
	}
}

func (e *Engine) handleFreeText(ctx context.Context, user *model.User, text string) []Reply {
	unknown := []Reply{{Text: "Sorry, I don't understand. Type /help for the list of commands."}}
	if e.intent == nil || text == "" {
		return unknown
	}

	meters, err := e.store.MetersByUser(ctx, user.ID)
	if err != nil {
		meters = nil
	}

	it := e.intent.Interpret(ctx, text, meters)
	if it == nil {
		return unknown
	}

	switch it.Name {
	case intent.IntentStart:
		return e.handleStart()
	case intent.IntentHelp:
		return e.handleHelp()
	case intent.IntentListMeters:
		return e.handleList(ctx, user)
	case intent.IntentCheckBalances:
		return e.handleCheck(ctx, user)
	case intent.IntentToggleReminder:
		return e.handleToggleReminder(ctx, user)
	case intent.IntentSmallTalk:
		if it.Response != "" {
			return []Reply{{Text: it.Response}}
		}
		return []Reply{{Text: "👋 How can I help with your meters?"}}
	default:
		return unknown
	}
}

func (e *Engine) handleStart() []Reply {
	return []Reply{{Text: "🎉 Welcome to NESCO Meter Helper!\n\n" +
		"Commands:\n" +
		"/add - Add a meter\n" +
		"/list - List your meters\n" +
		"/check - Check all balances\n" +
		"/remove - Remove a meter\n" +
		"/minbalance - Set minimum balance alert\n" +
		"/reminder - Toggle daily reminder"}}
}

func (e *Engine) handleHelp() []Reply {
	return []Reply{{
		Markdown: true,
		Text: "📋 *Available Commands:*\n\n" +
			"/start - Start the bot\n" +
			"/add - Add a new meter\n" +
			"/list - List all your meters\n" +
			"/check - Check balances for all meters\n" +
			"/remove - Remove a meter\n" +
			"/minbalance - Set minimum balance alert\n" +
			"/reminder - Toggle daily reminder (11 AM)\n" +
			"/help - Show this help message\n\n" +
			"💡 *How it works:*\n" +
			"1. Add your meter(s) with /add\n" +
			"2. Check balances anytime with /check\n" +
			"3. Get alerts when balance is low\n" +
			"4. Receive daily reminders at 11 AM",
	}}
}

func (e *Engine) handleCancel(user *model.User) []Reply {
	if e.session(user.TelegramUserID) == nil {
		return []Reply{{Text: "Nothing to cancel."}}
	}
	e.clearSession(user.TelegramUserID)
	return []Reply{{Text: "Cancelled", RemoveKeyboard: true}}
}

func (e *Engine) handleToggleReminder(ctx context.Context, user *model.User) []Reply {
	enabled, err := e.store.ToggleReminder(ctx, user.ID)
	if err != nil {
		e.log.WithField("userId", user.TelegramUserID).WithError(err).Error("error toggling reminder")
		return []Reply{{Text: msgInternalError}}
	}
	if enabled {
		return []Reply{{Text: "✅ Daily reminder enabled"}}
	}
	return []Reply{{Text: "✅ Daily reminder disabled"}}
}

func (e *Engine) handleList(ctx context.Context, user *model.User) []Reply {
	meters, err := e.store.MetersByUser(ctx, user.ID)
	if err != nil {
		e.log.WithField("userId", user.TelegramUserID).WithError(err).Error("error listing meters")
		return []Reply{{Text: msgInternalError}}
	}
	if len(meters) == 0 {
		return []Reply{{Text: "No meters added yet. Use /add to add one."}}
	}
	return []Reply{{Text: formatMeterList(meters), Markdown: true}}
}

func (e *Engine) handleCheck(ctx context.Context, user *model.User) []Reply {
	meters, err := e.store.MetersByUser(ctx, user.ID)
	if err != nil {
		e.log.WithField("userId", user.TelegramUserID).WithError(err).Error("error listing meters")
		return []Reply{{Text: msgInternalError}}
	}
	if len(meters) == 0 {
		return []Reply{{Text: "No meters found. Add one with /add"}}
	}

	replies := []Reply{{Text: "⏳ Checking balances from NESCO... This may take a moment..."}}

	statuses, err := e.balance.Sweep(ctx, user.ID)
	if err != nil {
		e.log.WithField("userId", user.TelegramUserID).WithError(err).Error("sweep failed")
		return append(replies, Reply{Text: msgInternalError})
	}
	return append(replies, Reply{Text: BuildBalanceReport(statuses), Markdown: true})
}

// session returns the live session or nil. The pointer is owned by the
// dialogue goroutine handling this user; Telegram delivers one user's
// messages in order.
func (e *Engine) session(telegramUserID int64) *model.UserSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[telegramUserID]
}

func (e *Engine) setSession(telegramUserID int64, session *model.UserSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[telegramUserID] = session
}

func (e *Engine) clearSession(telegramUserID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, telegramUserID)
}

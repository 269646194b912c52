package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nescohelper/meter-bot/internal/engine"
	"github.com/nescohelper/meter-bot/internal/model"
	"github.com/nescohelper/meter-bot/internal/storage"
)

// cancelToken is the designated keyboard reply that leaves a selection
// flow. It is only recognized while a keyboard is on screen.
const cancelToken = "Cancel"

func (e *Engine) startAddFlow(user *model.User) []Reply {
	e.setSession(user.TelegramUserID, &model.UserSession{State: model.StateAddAwaitingNumber})
	return []Reply{{Text: "📝 Let's add a new meter!\n\n" +
		"Please send your meter number (e.g., 31041051783)\n" +
		"Send /cancel to abort."}}
}

func (e *Engine) handleAddNumber(user *model.User, session *model.UserSession, text string) []Reply {
	if !isDigits(text) {
		// invalid identifier re-prompts, the flow does not advance
		return []Reply{{Text: "❌ Please send a valid meter number (only digits)"}}
	}
	session.MeterNumber = text
	session.State = model.StateAddAwaitingName
	e.setSession(user.TelegramUserID, session)
	return []Reply{{Text: "Great! Now send a name for this meter (e.g., Home, Shop, Office)"}}
}

func (e *Engine) handleAddName(ctx context.Context, user *model.User, session *model.UserSession, text string) []Reply {
	if text == "" {
		return []Reply{{Text: "Please send a non-empty name for this meter"}}
	}

	// terminal either way
	e.clearSession(user.TelegramUserID)

	replies := []Reply{{Text: "⏳ Adding meter and verifying with NESCO..."}}

	meter, err := e.balance.VerifyAndRegister(ctx, user.ID, session.MeterNumber, text)
	switch {
	case err == nil:
		balance := 0.0
		if meter.LastBalance != nil {
			balance = *meter.LastBalance
		}
		return append(replies, Reply{Text: fmt.Sprintf("✅ Added meter: %s (%s)\nCurrent balance: %.2f BDT",
			meter.Name, meter.Number, balance)})
	case errors.Is(err, engine.ErrDuplicateMeter):
		return append(replies, Reply{Text: "❌ Error: Meter already exists"})
	default:
		var verr *engine.VerificationError
		if errors.As(err, &verr) {
			return append(replies, Reply{Text: fmt.Sprintf("❌ Error: Cannot verify meter: %v", verr.Reason)})
		}
		e.log.WithField("userId", user.TelegramUserID).WithError(err).Error("error registering meter")
		return append(replies, Reply{Text: msgInternalError})
	}
}

func (e *Engine) startMinBalanceFlow(ctx context.Context, user *model.User) []Reply {
	meters, err := e.store.MetersByUser(ctx, user.ID)
	if err != nil {
		e.log.WithField("userId", user.TelegramUserID).WithError(err).Error("error listing meters")
		return []Reply{{Text: msgInternalError}}
	}
	if len(meters) == 0 {
		// the flow never starts, no session is created
		return []Reply{{Text: "No meters found. Add one with /add"}}
	}

	e.setSession(user.TelegramUserID, &model.UserSession{
		State:  model.StateMinAwaitingChoice,
		Meters: meters,
	})

	keyboard := make([][]string, 0, len(meters)+1)
	for i, m := range meters {
		keyboard = append(keyboard, []string{fmt.Sprintf("%d. %s", i+1, m.Name)})
	}
	keyboard = append(keyboard, []string{cancelToken})
	return []Reply{{Text: "Select a meter:", Keyboard: keyboard}}
}

func (e *Engine) handleMinBalanceChoice(user *model.User, session *model.UserSession, text string) []Reply {
	if text == cancelToken {
		e.clearSession(user.TelegramUserID)
		return nil
	}

	idx, ok := parseSelection(text, len(session.Meters))
	if !ok {
		// selection flows abort on bad input instead of re-prompting
		e.clearSession(user.TelegramUserID)
		return []Reply{{Text: "Invalid selection", RemoveKeyboard: true}}
	}

	chosen := session.Meters[idx-1]
	session.State = model.StateMinAwaitingAmount
	session.MeterID = chosen.ID
	session.MeterName = chosen.Name
	e.setSession(user.TelegramUserID, session)

	return []Reply{{
		Text:           fmt.Sprintf("Send minimum balance amount for *%s* (in BDT):", chosen.Name),
		Markdown:       true,
		RemoveKeyboard: true,
	}}
}

func (e *Engine) handleMinBalanceAmount(ctx context.Context, user *model.User, session *model.UserSession, text string) []Reply {
	e.clearSession(user.TelegramUserID)

	amount, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return []Reply{{Text: "❌ Please send a valid number"}}
	}

	meter, err := e.balance.SetThreshold(ctx, session.MeterID, amount)
	switch {
	case err == nil:
		return []Reply{{Text: fmt.Sprintf("✅ Min balance set to %g BDT for %s", meter.MinBalance, meter.Name)}}
	case errors.Is(err, engine.ErrInvalidThreshold):
		return []Reply{{Text: "❌ Error: minimum balance must be a positive number"}}
	case errors.Is(err, engine.ErrMeterNotFound):
		return []Reply{{Text: "❌ Error: Meter not found"}}
	default:
		e.log.WithField("userId", user.TelegramUserID).WithError(err).Error("error setting threshold")
		return []Reply{{Text: msgInternalError}}
	}
}

func (e *Engine) startRemoveFlow(ctx context.Context, user *model.User) []Reply {
	meters, err := e.store.MetersByUser(ctx, user.ID)
	if err != nil {
		e.log.WithField("userId", user.TelegramUserID).WithError(err).Error("error listing meters")
		return []Reply{{Text: msgInternalError}}
	}
	if len(meters) == 0 {
		return []Reply{{Text: "No meters to remove. Add one with /add"}}
	}

	e.setSession(user.TelegramUserID, &model.UserSession{
		State:  model.StateRemoveAwaitingChoice,
		Meters: meters,
	})

	keyboard := make([][]string, 0, len(meters)+1)
	for i, m := range meters {
		keyboard = append(keyboard, []string{fmt.Sprintf("%d. %s (%s)", i+1, m.Name, m.Number)})
	}
	keyboard = append(keyboard, []string{cancelToken})
	return []Reply{{Text: "Select a meter to remove:", Keyboard: keyboard}}
}

func (e *Engine) handleRemoveChoice(ctx context.Context, user *model.User, session *model.UserSession, text string) []Reply {
	e.clearSession(user.TelegramUserID)

	if text == cancelToken {
		return []Reply{{Text: "Cancelled", RemoveKeyboard: true}}
	}

	idx, ok := parseSelection(text, len(session.Meters))
	if !ok {
		return []Reply{{Text: "Invalid selection", RemoveKeyboard: true}}
	}

	chosen := session.Meters[idx-1]
	if err := e.store.DeleteMeter(ctx, user.ID, chosen.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []Reply{{Text: "❌ Error: Meter not found", RemoveKeyboard: true}}
		}
		e.log.WithField("userId", user.TelegramUserID).WithError(err).Error("error removing meter")
		return []Reply{{Text: msgInternalError, RemoveKeyboard: true}}
	}
	return []Reply{{Text: fmt.Sprintf("✅ Removed meter: %s", chosen.Name), RemoveKeyboard: true}}
}

// parseSelection reads the 1-based index off a keyboard reply like
// "2. Shop (31041051783)" or a bare "2".
func parseSelection(text string, max int) (int, bool) {
	head := strings.TrimSpace(strings.SplitN(text, ".", 2)[0])
	idx, err := strconv.Atoi(head)
	if err != nil || idx < 1 || idx > max {
		return 0, false
	}
	return idx, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

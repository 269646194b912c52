// Package scheduler selects reminder-enabled users once per tick and pushes
// their sweep report. Delivery is at-least-once; the candidate query itself
// has no side effect, so re-running a tick is safe.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nescohelper/meter-bot/internal/model"
)

type Store interface {
	UsersWithReminder(ctx context.Context) ([]model.User, error)
}

type Sweeper interface {
	Sweep(ctx context.Context, userID int64) ([]model.MeterStatus, error)
}

// Notifier delivers a sweep report to one user. The bot front end
// implements it.
type Notifier interface {
	SendBalanceReport(telegramUserID int64, statuses []model.MeterStatus) error
}

type Scheduler struct {
	store    Store
	sweeper  Sweeper
	notifier Notifier
	log      *logrus.Logger

	reminderTime string // "HH:MM", process-local time
	now          func() time.Time

	mu      sync.Mutex
	lastDay string
}

func New(store Store, sweeper Sweeper, notifier Notifier, reminderTime string, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		store:        store,
		sweeper:      sweeper,
		notifier:     notifier,
		log:          log,
		reminderTime: reminderTime,
		now:          time.Now,
	}
}

// DueReminders returns every user with the reminder enabled and at least
// one meter.
func (s *Scheduler) DueReminders(ctx context.Context) ([]model.User, error) {
	return s.store.UsersWithReminder(ctx)
}

// Tick runs one reminder cycle: sweep each due user's portfolio and hand
// the result to the notifier. A failing user degrades only their own
// reminder. Returns the number of reminders delivered.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	users, err := s.DueReminders(ctx)
	if err != nil {
		return 0, fmt.Errorf("error selecting due reminders: %w", err)
	}

	sent := 0
	for _, user := range users {
		statuses, err := s.sweeper.Sweep(ctx, user.ID)
		if err != nil {
			s.log.WithField("userId", user.TelegramUserID).WithError(err).Error("reminder sweep failed")
			continue
		}
		if len(statuses) == 0 {
			continue
		}
		if err := s.notifier.SendBalanceReport(user.TelegramUserID, statuses); err != nil {
			s.log.WithField("userId", user.TelegramUserID).WithError(err).Error("reminder delivery failed")
			continue
		}
		sent++
	}

	s.log.WithField("reminders", sent).Info("reminder tick finished")
	return sent, nil
}

// Run fires Tick once per day at the configured reminder time. It checks
// every minute and guards against double-firing within the same day.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.shouldFire() {
				if _, err := s.Tick(ctx); err != nil {
					s.log.WithError(err).Error("reminder tick failed")
				}
			}
		}
	}
}

func (s *Scheduler) shouldFire() bool {
	now := s.now()
	if now.Format("15:04") != s.reminderTime {
		return false
	}

	day := now.Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastDay == day {
		return false
	}
	s.lastDay = day
	return true
}

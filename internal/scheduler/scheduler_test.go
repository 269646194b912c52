package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nescohelper/meter-bot/internal/model"
)

type fakeStore struct {
	users []model.User
	err   error
}

func (s *fakeStore) UsersWithReminder(context.Context) ([]model.User, error) {
	return s.users, s.err
}

type fakeSweeper struct {
	statuses map[int64][]model.MeterStatus
	errs     map[int64]error
	calls    []int64
}

func (s *fakeSweeper) Sweep(_ context.Context, userID int64) ([]model.MeterStatus, error) {
	s.calls = append(s.calls, userID)
	if err := s.errs[userID]; err != nil {
		return nil, err
	}
	return s.statuses[userID], nil
}

type fakeNotifier struct {
	sentTo  []int64
	failFor map[int64]error
}

func (n *fakeNotifier) SendBalanceReport(telegramUserID int64, _ []model.MeterStatus) error {
	if err := n.failFor[telegramUserID]; err != nil {
		return err
	}
	n.sentTo = append(n.sentTo, telegramUserID)
	return nil
}

func newTestScheduler(store *fakeStore, sweeper *fakeSweeper, notifier *fakeNotifier) *Scheduler {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(store, sweeper, notifier, "11:00", log)
}

func status(name string) []model.MeterStatus {
	return []model.MeterStatus{{Meter: model.Meter{Name: name}, Balance: 100}}
}

func TestTickSendsToEveryDueUser(t *testing.T) {
	store := &fakeStore{users: []model.User{
		{ID: 1, TelegramUserID: 100},
		{ID: 2, TelegramUserID: 200},
	}}
	sweeper := &fakeSweeper{statuses: map[int64][]model.MeterStatus{
		1: status("Home"),
		2: status("Shop"),
	}}
	notifier := &fakeNotifier{}

	sent, err := newTestScheduler(store, sweeper, notifier).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []int64{1, 2}, sweeper.calls)
	assert.Equal(t, []int64{100, 200}, notifier.sentTo)
}

func TestTickFailingUserDegradesAlone(t *testing.T) {
	store := &fakeStore{users: []model.User{
		{ID: 1, TelegramUserID: 100},
		{ID: 2, TelegramUserID: 200},
		{ID: 3, TelegramUserID: 300},
	}}
	sweeper := &fakeSweeper{
		statuses: map[int64][]model.MeterStatus{
			1: status("Home"),
			3: status("Office"),
		},
		errs: map[int64]error{2: errors.New("db down")},
	}
	notifier := &fakeNotifier{failFor: map[int64]error{300: errors.New("blocked the bot")}}

	sent, err := newTestScheduler(store, sweeper, notifier).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []int64{100}, notifier.sentTo)
}

func TestTickSkipsEmptySweep(t *testing.T) {
	store := &fakeStore{users: []model.User{{ID: 1, TelegramUserID: 100}}}
	sweeper := &fakeSweeper{}
	notifier := &fakeNotifier{}

	sent, err := newTestScheduler(store, sweeper, notifier).Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, notifier.sentTo)
}

func TestTickStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}

	_, err := newTestScheduler(store, &fakeSweeper{}, &fakeNotifier{}).Tick(context.Background())
	require.Error(t, err)
}

func TestShouldFireOncePerDay(t *testing.T) {
	s := newTestScheduler(&fakeStore{}, &fakeSweeper{}, &fakeNotifier{})

	at := time.Date(2025, 3, 1, 11, 0, 30, 0, time.UTC)
	s.now = func() time.Time { return at }

	assert.True(t, s.shouldFire())
	assert.False(t, s.shouldFire(), "same minute must not double-fire")

	// later the same day, even at the same wall time again
	at = time.Date(2025, 3, 1, 11, 0, 59, 0, time.UTC)
	assert.False(t, s.shouldFire())

	// next day fires again
	at = time.Date(2025, 3, 2, 11, 0, 0, 0, time.UTC)
	assert.True(t, s.shouldFire())
}

func TestShouldFireOnlyAtConfiguredTime(t *testing.T) {
	s := newTestScheduler(&fakeStore{}, &fakeSweeper{}, &fakeNotifier{})

	for _, at := range []time.Time{
		time.Date(2025, 3, 1, 10, 59, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 11, 1, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC),
	} {
		now := at
		s.now = func() time.Time { return now }
		assert.False(t, s.shouldFire(), "at %s", at.Format("15:04"))
	}
}

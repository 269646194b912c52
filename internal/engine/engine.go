// Package engine ingests balance readings: it verifies and registers
// meters, refreshes snapshots, derives the day-over-day delta and the
// low-balance alert, and fans a user's portfolio out as one sweep.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nescohelper/meter-bot/internal/model"
	"github.com/nescohelper/meter-bot/internal/nesco"
	"github.com/nescohelper/meter-bot/internal/storage"
)

var (
	ErrDuplicateMeter   = errors.New("meter already registered")
	ErrInvalidThreshold = errors.New("minimum balance must be a positive number")
	ErrMeterNotFound    = errors.New("meter not found")
)

// VerificationError reports a failed pre-registration fetch. Nothing is
// stored when it is returned.
type VerificationError struct {
	Reason error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("cannot verify meter: %v", e.Reason)
}

func (e *VerificationError) Unwrap() error { return e.Reason }

// Store is the persistence surface the engine needs. *storage.Storage
// satisfies it.
type Store interface {
	MeterExists(ctx context.Context, userID int64, number string) (bool, error)
	MeterByID(ctx context.Context, meterID int64) (*model.Meter, error)
	MetersByUser(ctx context.Context, userID int64) ([]model.Meter, error)
	CreateMeterWithReading(ctx context.Context, meter model.Meter, balance float64, at time.Time) (*model.Meter, error)
	RecordReading(ctx context.Context, meterID int64, balance float64, at time.Time) error
	LatestReadingWithin(ctx context.Context, meterID int64, from, to time.Time) (*model.Reading, error)
	SetMinBalance(ctx context.Context, meterID int64, minBalance float64) error
}

// Fetcher is the external balance source.
type Fetcher interface {
	Fetch(ctx context.Context, meterNumber string) (*nesco.Reading, error)
}

type Engine struct {
	store   Store
	fetcher Fetcher
	log     *logrus.Logger

	defaultMinBalance float64
	sweepConcurrency  int

	locks *meterLocks
	now   func() time.Time
}

type Options struct {
	DefaultMinBalance float64
	SweepConcurrency  int
}

func New(store Store, fetcher Fetcher, log *logrus.Logger, opts Options) *Engine {
	if opts.SweepConcurrency <= 0 {
		opts.SweepConcurrency = 4
	}
	if opts.DefaultMinBalance <= 0 {
		opts.DefaultMinBalance = 50.0
	}
	return &Engine{
		store:             store,
		fetcher:           fetcher,
		log:               log,
		defaultMinBalance: opts.DefaultMinBalance,
		sweepConcurrency:  opts.SweepConcurrency,
		locks:             newMeterLocks(),
		now:               time.Now,
	}
}

// VerifyAndRegister fetches the meter once and, on success, creates the
// meter row together with its first reading. A duplicate (user, number)
// pair is rejected before any fetch happens.
func (e *Engine) VerifyAndRegister(ctx context.Context, userID int64, number, name string) (*model.Meter, error) {
	exists, err := e.store.MeterExists(ctx, userID, number)
	if err != nil {
		return nil, fmt.Errorf("error checking meter: %w", err)
	}
	if exists {
		return nil, ErrDuplicateMeter
	}

	reading, err := e.fetcher.Fetch(ctx, number)
	if err != nil {
		return nil, &VerificationError{Reason: err}
	}

	meter := model.Meter{
		UserID:     userID,
		Number:     number,
		Name:       name,
		MinBalance: e.defaultMinBalance,
	}
	created, err := e.store.CreateMeterWithReading(ctx, meter, reading.Balance, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("error registering meter: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"meterId": created.ID,
		"number":  created.Number,
	}).Info("meter registered")
	return created, nil
}

// Refresh fetches the current balance for one meter and commits the new
// reading. The external fetch runs before the per-meter lock is taken; only
// the read-compute-append of the snapshot is serialized.
//
// A fetch failure degrades the returned status (Err set, stored state
// untouched). The returned error is reserved for store faults, which abort
// the operation without a partial commit.
func (e *Engine) Refresh(ctx context.Context, meterID int64) (model.MeterStatus, error) {
	meter, err := e.store.MeterByID(ctx, meterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.MeterStatus{}, ErrMeterNotFound
		}
		return model.MeterStatus{}, fmt.Errorf("error loading meter: %w", err)
	}

	reading, ferr := e.fetcher.Fetch(ctx, meter.Number)
	if ferr != nil {
		e.log.WithFields(logrus.Fields{"meterId": meter.ID, "number": meter.Number}).
			WithError(ferr).Warn("balance fetch failed")
		return model.MeterStatus{Meter: *meter, Err: ferr}, nil
	}

	unlock := e.locks.lock(meter.ID)
	defer unlock()

	// Reload under the lock: the threshold must be the one in effect at
	// commit time, and a concurrently deleted meter must not resurrect.
	meter, err = e.store.MeterByID(ctx, meterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.MeterStatus{}, ErrMeterNotFound
		}
		return model.MeterStatus{}, fmt.Errorf("error reloading meter: %w", err)
	}

	now := e.now().UTC()
	var delta *float64
	prior, err := e.store.LatestReadingWithin(ctx, meter.ID, now.Add(-24*time.Hour), now)
	switch {
	case err == nil:
		d := prior.Balance - reading.Balance
		delta = &d
	case errors.Is(err, storage.ErrNotFound):
		// no reading in the trailing day, delta stays unset
	default:
		return model.MeterStatus{}, fmt.Errorf("error reading history: %w", err)
	}

	if err := e.store.RecordReading(ctx, meter.ID, reading.Balance, now); err != nil {
		return model.MeterStatus{}, fmt.Errorf("error recording reading: %w", err)
	}

	return model.MeterStatus{
		Meter:      *meter,
		Balance:    reading.Balance,
		Delta:      delta,
		Alert:      reading.Balance < meter.MinBalance,
		MinBalance: meter.MinBalance,
	}, nil
}

// Sweep refreshes every meter the user owns. Meters are independent: one
// unreachable meter degrades its own entry only, and successful entries are
// durable even if a later one fails fatally.
func (e *Engine) Sweep(ctx context.Context, userID int64) ([]model.MeterStatus, error) {
	meters, err := e.store.MetersByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing meters: %w", err)
	}
	if len(meters) == 0 {
		return nil, nil
	}

	sweepLog := e.log.WithFields(logrus.Fields{
		"sweepId": uuid.NewString(),
		"userId":  userID,
		"meters":  len(meters),
	})
	sweepLog.Info("sweep started")

	statuses := make([]model.MeterStatus, len(meters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.sweepConcurrency)
	for i, meter := range meters {
		g.Go(func() error {
			status, err := e.Refresh(gctx, meter.ID)
			if err != nil {
				// A meter deleted mid-sweep is not a fault, report it
				// as a degraded entry like a fetch failure.
				if errors.Is(err, ErrMeterNotFound) {
					statuses[i] = model.MeterStatus{Meter: meter, Err: err}
					return nil
				}
				return err
			}
			statuses[i] = status
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sweepLog.Info("sweep finished")
	return statuses, nil
}

// SetThreshold updates the alert threshold. Non-positive or non-finite
// values are rejected and the stored threshold stays unchanged.
func (e *Engine) SetThreshold(ctx context.Context, meterID int64, minBalance float64) (*model.Meter, error) {
	if minBalance <= 0 || math.IsNaN(minBalance) || math.IsInf(minBalance, 0) {
		return nil, ErrInvalidThreshold
	}
	if err := e.store.SetMinBalance(ctx, meterID, minBalance); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrMeterNotFound
		}
		return nil, fmt.Errorf("error updating threshold: %w", err)
	}
	meter, err := e.store.MeterByID(ctx, meterID)
	if err != nil {
		return nil, fmt.Errorf("error reloading meter: %w", err)
	}
	return meter, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nescohelper/meter-bot/internal/model"
)

// ErrNotFound is returned when a referenced user or meter row does not exist.
var ErrNotFound = errors.New("record not found")

type Storage struct {
	pool *pgxpool.Pool
}

func NewStorage(ctx context.Context, postgresDsn string) (*Storage, error) {
	poolConfig, err := pgxpool.ParseConfig(postgresDsn)
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("error connecting: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("error pinging pool: %w", err)
	}

	return &Storage{pool: pool}, nil
}

func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetOrCreateUser looks a user up by Telegram id and creates the row on
// first contact. Users are never hard-deleted.
func (s *Storage) GetOrCreateUser(ctx context.Context, telegramUserID int64, username string) (*model.User, error) {
	u, err := s.UserByTelegramID(ctx, telegramUserID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	query := `INSERT INTO users (telegram_user_id, username)
	          VALUES ($1, $2)
	          RETURNING id, telegram_user_id, username, daily_reminder_enabled, reminder_time, created_at`
	created := model.User{}
	err = s.pool.QueryRow(ctx, query, telegramUserID, username).Scan(
		&created.ID, &created.TelegramUserID, &created.Username,
		&created.ReminderEnabled, &created.ReminderTime, &created.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return &created, nil
}

func (s *Storage) UserByTelegramID(ctx context.Context, telegramUserID int64) (*model.User, error) {
	query := `SELECT id, telegram_user_id, username, daily_reminder_enabled, reminder_time, created_at
	          FROM users WHERE telegram_user_id = $1`
	u := model.User{}
	err := s.pool.QueryRow(ctx, query, telegramUserID).Scan(
		&u.ID, &u.TelegramUserID, &u.Username, &u.ReminderEnabled, &u.ReminderTime, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ToggleReminder flips the daily reminder flag and returns the new value.
func (s *Storage) ToggleReminder(ctx context.Context, userID int64) (bool, error) {
	query := `UPDATE users SET daily_reminder_enabled = NOT daily_reminder_enabled
	          WHERE id = $1
	          RETURNING daily_reminder_enabled`
	var enabled bool
	err := s.pool.QueryRow(ctx, query, userID).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return enabled, err
}

// UsersWithReminder returns users with the reminder enabled and at least
// one meter. Querying it has no side effect, so re-running a tick is safe.
func (s *Storage) UsersWithReminder(ctx context.Context) ([]model.User, error) {
	query := `SELECT u.id, u.telegram_user_id, u.username, u.daily_reminder_enabled, u.reminder_time, u.created_at
	          FROM users u
	          WHERE u.daily_reminder_enabled
	            AND EXISTS (SELECT 1 FROM meters m WHERE m.user_id = u.id)
	          ORDER BY u.id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.TelegramUserID, &u.Username, &u.ReminderEnabled, &u.ReminderTime, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Storage) MeterExists(ctx context.Context, userID int64, number string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM meters WHERE user_id = $1 AND meter_number = $2)`
	var exists bool
	err := s.pool.QueryRow(ctx, query, userID, number).Scan(&exists)
	return exists, err
}

func (s *Storage) MeterByID(ctx context.Context, meterID int64) (*model.Meter, error) {
	query := `SELECT id, user_id, meter_number, meter_name, min_balance, last_balance, last_checked, created_at
	          FROM meters WHERE id = $1`
	m := model.Meter{}
	err := s.pool.QueryRow(ctx, query, meterID).Scan(
		&m.ID, &m.UserID, &m.Number, &m.Name, &m.MinBalance, &m.LastBalance, &m.LastChecked, &m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Storage) MetersByUser(ctx context.Context, userID int64) ([]model.Meter, error) {
	query := `SELECT id, user_id, meter_number, meter_name, min_balance, last_balance, last_checked, created_at
	          FROM meters WHERE user_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meters []model.Meter
	for rows.Next() {
		var m model.Meter
		if err := rows.Scan(&m.ID, &m.UserID, &m.Number, &m.Name, &m.MinBalance, &m.LastBalance, &m.LastChecked, &m.CreatedAt); err != nil {
			return nil, err
		}
		meters = append(meters, m)
	}
	return meters, rows.Err()
}

// CreateMeterWithReading inserts the meter row together with its first
// verification reading in one transaction, so a meter with a non-null
// snapshot always has at least one history row.
func (s *Storage) CreateMeterWithReading(ctx context.Context, meter model.Meter, balance float64, at time.Time) (*model.Meter, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insertMeter := `INSERT INTO meters (user_id, meter_number, meter_name, min_balance, last_balance, last_checked)
	                VALUES ($1, $2, $3, $4, $5, $6)
	                RETURNING id, user_id, meter_number, meter_name, min_balance, last_balance, last_checked, created_at`
	created := model.Meter{}
	err = tx.QueryRow(ctx, insertMeter, meter.UserID, meter.Number, meter.Name, meter.MinBalance, balance, at).Scan(
		&created.ID, &created.UserID, &created.Number, &created.Name,
		&created.MinBalance, &created.LastBalance, &created.LastChecked, &created.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("error inserting meter: %w", err)
	}

	insertReading := `INSERT INTO balance_history (meter_id, balance, recorded_at) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, insertReading, created.ID, balance, at); err != nil {
		return nil, fmt.Errorf("error inserting first reading: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("error committing: %w", err)
	}
	return &created, nil
}

// RecordReading appends a history row and updates the meter snapshot in one
// transaction. History is append-only; the snapshot always mirrors the
// newest reading.
func (s *Storage) RecordReading(ctx context.Context, meterID int64, balance float64, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insertReading := `INSERT INTO balance_history (meter_id, balance, recorded_at) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, insertReading, meterID, balance, at); err != nil {
		return fmt.Errorf("error appending reading: %w", err)
	}

	updateMeter := `UPDATE meters SET last_balance = $1, last_checked = $2 WHERE id = $3`
	tag, err := tx.Exec(ctx, updateMeter, balance, at, meterID)
	if err != nil {
		return fmt.Errorf("error updating snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

// LatestReadingWithin returns the most recent reading with
// from <= recorded_at < to, or ErrNotFound when the window is empty.
func (s *Storage) LatestReadingWithin(ctx context.Context, meterID int64, from, to time.Time) (*model.Reading, error) {
	query := `SELECT id, meter_id, balance, recorded_at
	          FROM balance_history
	          WHERE meter_id = $1 AND recorded_at >= $2 AND recorded_at < $3
	          ORDER BY recorded_at DESC
	          LIMIT 1`
	r := model.Reading{}
	err := s.pool.QueryRow(ctx, query, meterID, from, to).Scan(&r.ID, &r.MeterID, &r.Balance, &r.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Storage) SetMinBalance(ctx context.Context, meterID int64, minBalance float64) error {
	query := `UPDATE meters SET min_balance = $1 WHERE id = $2`
	tag, err := s.pool.Exec(ctx, query, minBalance, meterID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMeter removes a meter owned by the user; balance history cascades.
func (s *Storage) DeleteMeter(ctx context.Context, userID, meterID int64) error {
	query := `DELETE FROM meters WHERE id = $1 AND user_id = $2`
	tag, err := s.pool.Exec(ctx, query, meterID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

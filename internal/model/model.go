package model

import "time"

type User struct {
	ID              int64
	TelegramUserID  int64
	Username        string
	ReminderEnabled bool
	ReminderTime    string
	CreatedAt       time.Time
}

func (u User) IsEmpty() bool {
	return u.ID == 0
}

type Meter struct {
	ID          int64
	UserID      int64
	Number      string
	Name        string
	MinBalance  float64
	LastBalance *float64
	LastChecked *time.Time
	CreatedAt   time.Time
}

// Reading is one appended balance_history row. Rows are never mutated.
type Reading struct {
	ID         int64
	MeterID    int64
	Balance    float64
	RecordedAt time.Time
}

// MeterStatus is the outcome of refreshing one meter. When Err is set the
// meter's stored snapshot was left untouched and the other fields except
// Meter carry no data.
type MeterStatus struct {
	Meter      Meter
	Balance    float64
	Delta      *float64
	Alert      bool
	MinBalance float64
	Err        error
}

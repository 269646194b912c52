package model

type SessionState int

const (
	StateAddAwaitingNumber SessionState = iota + 1
	StateAddAwaitingName
	StateMinAwaitingChoice
	StateMinAwaitingAmount
	StateRemoveAwaitingChoice
)

// UserSession is the ephemeral per-user dialogue state. It lives only in
// memory; an interrupted flow restarts from its entry command.
type UserSession struct {
	State SessionState

	// add-meter scratch
	MeterNumber string

	// selection snapshot for the min-balance and remove flows
	Meters []Meter

	// chosen meter in the min-balance flow
	MeterID   int64
	MeterName string
}

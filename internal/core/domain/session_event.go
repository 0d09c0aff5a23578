package domain

import "time"

// SessionEventKind classifies an audit record.
type SessionEventKind string

const (
	EventLogin         SessionEventKind = "login"
	EventLoginFailed   SessionEventKind = "login_failed"
	EventRenewed       SessionEventKind = "renewed"
	EventRenewalFailed SessionEventKind = "renewal_failed"
	EventLogout        SessionEventKind = "logout"
	EventSessionLost   SessionEventKind = "session_lost"
)

// SessionEvent is an audit record of a session lifecycle transition.
// It never carries token material.
type SessionEvent struct {
	ID          string
	Kind        SessionEventKind
	Domain      Domain
	PrincipalID string
	At          time.Time
	Detail      string
}

// ShardKey groups the events of one principal so they are persisted in order.
func (e SessionEvent) ShardKey() string {
	return string(e.Domain) + ":" + e.PrincipalID
}

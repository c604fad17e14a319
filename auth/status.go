package auth

// SessionStatus is the current state of the auth state machine. Exactly one
// status is current at any time; transitions are observable through
// Client.WatchStatus. Modeled as a closed sum type so consumers can
// exhaustively switch on the concrete variants.
type SessionStatus interface {
	sessionStatus()
}

// NotAuthenticated means no session is present.
type NotAuthenticated struct{}

// LoadingFromStorage means the client is restoring a persisted session at
// startup.
type LoadingFromStorage struct{}

// NetworkError means the last refresh attempt failed at the transport level
// and will be retried.
type NetworkError struct{}

// Authenticated carries the current session.
type Authenticated struct {
	Session Session
}

func (NotAuthenticated) sessionStatus()   {}
func (LoadingFromStorage) sessionStatus() {}
func (NetworkError) sessionStatus()       {}
func (Authenticated) sessionStatus()      {}

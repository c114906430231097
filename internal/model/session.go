package model

// SessionState is the phase of the session machine.
type SessionState int

const (
	// StateUnresolved is the state before the stored session has been checked.
	StateUnresolved SessionState = iota
	StateLoading
	StateAuthenticated
	StateUnauthenticated
)

func (s SessionState) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Session is an immutable snapshot of who is signed in.
type Session struct {
	User      *Identity
	IsLoading bool
	State     SessionState
}

// UnresolvedSession is the session before startup completes.
func UnresolvedSession() Session {
	return Session{IsLoading: true, State: StateUnresolved}
}

// LoadingSession keeps the previous user, if any, while a login resolves.
func LoadingSession(user *Identity) Session {
	return Session{User: cloneIdentity(user), IsLoading: true, State: StateLoading}
}

// AuthenticatedSession is a resolved signed-in session.
func AuthenticatedSession(user Identity) Session {
	u := user.Clone()
	return Session{User: &u, State: StateAuthenticated}
}

// SignedOutSession is a resolved session with nobody signed in.
func SignedOutSession() Session {
	return Session{State: StateUnauthenticated}
}

// Clone returns a copy that shares no pointers with s.
func (s Session) Clone() Session {
	s.User = cloneIdentity(s.User)
	return s
}

func cloneIdentity(i *Identity) *Identity {
	if i == nil {
		return nil
	}
	c := i.Clone()
	return &c
}

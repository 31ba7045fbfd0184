package relation

import "errors"

// Failure kinds returned by the service. Match them with errors.Is.
var (
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrInvalidTarget          = errors.New("invalid target user")
	ErrSelfTargetInvalid      = errors.New("cannot target yourself")
	ErrInvalidAction          = errors.New("invalid action")
	ErrConflictingState       = errors.New("conflicting relationship state")
	ErrAlreadyPending         = errors.New("friend request already pending")
	ErrAlreadyFriends         = errors.New("already friends")
	ErrRelationshipBlocked    = errors.New("relationship is blocked")
	ErrCannotAcceptOwnRequest = errors.New("cannot accept your own request")
	ErrNoPendingRequest       = errors.New("no pending request to accept")
	ErrNothingToReject        = errors.New("nothing to reject")
	ErrStoreUnavailable       = errors.New("store unavailable")
)

var kindCodes = map[error]string{
	ErrUnauthenticated:        "unauthenticated",
	ErrInvalidTarget:          "invalid_target",
	ErrSelfTargetInvalid:      "self_target_invalid",
	ErrInvalidAction:          "invalid_action",
	ErrConflictingState:       "conflicting_state",
	ErrAlreadyPending:         "already_pending",
	ErrAlreadyFriends:         "already_friends",
	ErrRelationshipBlocked:    "relationship_blocked",
	ErrCannotAcceptOwnRequest: "cannot_accept_own_request",
	ErrNoPendingRequest:       "no_pending_request",
	ErrNothingToReject:        "nothing_to_reject",
	ErrStoreUnavailable:       "store_unavailable",
}

// Error is a failed relationship operation. Kind is one of the Err* values;
// the underlying store error, if any, is reachable through Unwrap.
type Error struct {
	Kind   error
	Action string
	cause  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Action != "" {
		msg = e.Action + ": " + msg
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Is matches the failure kind.
func (e *Error) Is(target error) bool { return e.Kind == target }

func (e *Error) Unwrap() error { return e.cause }

func fail(kind error, action string) error {
	return &Error{Kind: kind, Action: action}
}

func storeFailure(action string, cause error) error {
	return &Error{Kind: ErrStoreUnavailable, Action: action, cause: cause}
}

// KindOf returns the failure kind of err, or nil if err is not a relation error.
func KindOf(err error) error {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return nil
}

// Code is a stable snake_case label for err, used in metrics and audit rows.
// It returns "ok" for nil and "internal" for errors of unknown kind.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	if c, ok := kindCodes[KindOf(err)]; ok {
		return c
	}
	return "internal"
}

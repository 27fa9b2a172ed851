package service

import "errors"

var (
	ErrDatabaseUnavailable = errors.New("database is not available")
	ErrNotOwner            = errors.New("not current room owner")
	ErrRoomLimitExceeded   = errors.New("permanent room limit exceeded")
	ErrPasswordTooLong     = errors.New("password too long")
	ErrVanityTooLong       = errors.New("custom URL too long")
	ErrInternalServer      = errors.New("internal server error")
)

// userMessages are the texts clients display for each error.
var userMessages = map[error]string{
	ErrDatabaseUnavailable: "Database is not available",
	ErrNotOwner:            "Not current room owner",
	ErrRoomLimitExceeded:   "You've exceeded the permanent room limit. Subscribe for additional permanent rooms.",
	ErrPasswordTooLong:     "Password too long",
	ErrVanityTooLong:       "Custom URL too long",
}

// UserMessage maps a service error to the errorMessage text shown to the user.
// Unknown errors return "" and are only logged.
func UserMessage(err error) string {
	for target, msg := range userMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return ""
}

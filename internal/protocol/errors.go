package protocol

import (
	"fmt"
	"net/http"
)

// Error is one entry of the closed failure catalog. Every rejection the
// relay produces, whether from the authorization chain, the topic router
// or the gateway itself, is one of the values below so clients can branch
// on Code alone.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"errorCode"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	ErrMissingCredentials = &Error{http.StatusUnauthorized, "Auth_4010", "missing credentials"}
	ErrInvalidSignature   = &Error{http.StatusUnauthorized, "Jwt_4011", "token signature is not valid"}
	ErrExpiredToken       = &Error{http.StatusUnauthorized, "Jwt_4012", "token is expired"}
	ErrMalformedToken     = &Error{http.StatusUnauthorized, "Jwt_4013", "token is malformed"}
	ErrUnsupportedToken   = &Error{http.StatusUnauthorized, "Jwt_4014", "token type is not supported"}
	ErrInvalidToken       = &Error{http.StatusUnauthorized, "Jwt_4015", "token is not valid"}

	ErrNotAMember     = &Error{http.StatusForbidden, "Channel_4031", "not a member of this channel"}
	ErrUnknownChannel = &Error{http.StatusNotFound, "Channel_4041", "channel not found"}
	ErrNotSubscribed  = &Error{http.StatusConflict, "Channel_4042", "not subscribed to this channel"}

	ErrRateLimited = &Error{http.StatusTooManyRequests, "Rate_4291", "too many requests"}

	ErrEmptyPayload     = &Error{http.StatusBadRequest, "Message_4001", "message content is empty"}
	ErrOversizedPayload = &Error{http.StatusBadRequest, "Message_4002", "message content exceeds the size limit"}
	ErrMalformedFrame   = &Error{http.StatusBadRequest, "Message_4003", "frame could not be parsed"}

	ErrBrokerUnavailable = &Error{http.StatusServiceUnavailable, "Broker_5031", "message could not be published"}

	ErrUnknown = &Error{http.StatusInternalServerError, "Server_5000", "unknown error"}
)

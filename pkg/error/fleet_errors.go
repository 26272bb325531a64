package error

import "net/http"

// MaxSessionsReachedError is returned by SessionManager.create when the
// live registry already holds maxSessions sockets.
type MaxSessionsReachedError string

func (err MaxSessionsReachedError) Error() string {
	return string(err)
}

func (err MaxSessionsReachedError) ErrCode() string {
	return "MAX_SESSIONS_REACHED"
}

func (err MaxSessionsReachedError) StatusCode() int {
	return http.StatusTooManyRequests
}

// FactoryFailedError wraps a failure from the client-library socket factory.
type FactoryFailedError string

func (err FactoryFailedError) Error() string {
	return string(err)
}

func (err FactoryFailedError) ErrCode() string {
	return "FACTORY_FAILED"
}

func (err FactoryFailedError) StatusCode() int {
	return http.StatusBadGateway
}

// PersistFailedError is returned when a session row could not be written
// after a socket was already created; the caller must fall back to
// in-memory-only cleanup of that socket.
type PersistFailedError string

func (err PersistFailedError) Error() string {
	return string(err)
}

func (err PersistFailedError) ErrCode() string {
	return "PERSIST_FAILED"
}

func (err PersistFailedError) StatusCode() int {
	return http.StatusInternalServerError
}

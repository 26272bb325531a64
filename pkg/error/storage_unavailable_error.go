package error

import "net/http"

// StorageUnavailableError is returned by SessionManager.initialize when a
// required storage backend cannot be reached.
type StorageUnavailableError string

func (err StorageUnavailableError) Error() string {
	return string(err)
}

func (err StorageUnavailableError) ErrCode() string {
	return "STORAGE_UNAVAILABLE"
}

func (err StorageUnavailableError) StatusCode() int {
	return http.StatusServiceUnavailable
}

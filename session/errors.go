package session

import "errors"

var (
	// ErrStorageUnavailable indicates the remote blob store or the local
	// snapshot cache could not be read or written.
	ErrStorageUnavailable = errors.New("session storage unavailable")
	// ErrCorruptSnapshot indicates a snapshot could not be parsed as a
	// user-to-session mapping.
	ErrCorruptSnapshot = errors.New("corrupt session snapshot")
)

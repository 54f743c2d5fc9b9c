package database

import "errors"

var (
	ErrManagerClosed     = errors.New("database manager is closed")
	ErrWriteTimeout      = errors.New("write operation timeout")
	ErrMissingStorageKey = errors.New("attachment requires a storage key")
)

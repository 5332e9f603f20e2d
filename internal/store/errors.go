package store

import "fmt"

// StorageError is a filesystem failure during refresh or collation. It
// aborts the refresh for one certificate only; the next cycle retries.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, path string, err error) error {
	return &StorageError{Op: op, Path: path, Err: err}
}

// FetchError is a failure of the external submission command for one log.
// The prior on-disk SCT, if any, is left untouched and the certificate's
// refresh is aborted so collation never runs against a half-refreshed state.
type FetchError struct {
	LogURL string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching SCT from %s: %v", e.LogURL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

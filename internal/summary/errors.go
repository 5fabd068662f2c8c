package summary

import "errors"

// ErrMissingInput is returned when a referenced show-daily blob does not
// exist in the store.
var ErrMissingInput = errors.New("missing input blob")

// ErrCorruptInput is returned when a show-daily row lacks its time field or
// a persisted summary fails its shape check.
var ErrCorruptInput = errors.New("corrupt input")

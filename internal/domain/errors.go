package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateTask = errors.New("duplicate task")
	ErrDispatchBusy  = errors.New("no account capacity")
	ErrNoAccount     = errors.New("no account available")
)

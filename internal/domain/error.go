package domain

import "errors"

var (
	ErrAlreadyExists = errors.New("item already exists")
)

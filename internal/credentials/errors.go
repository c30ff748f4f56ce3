package credentials

import "errors"

var (
	ErrCredentials = errors.New("credential acquisition failed")
	ErrTrust       = errors.New("host trust could not be established")
)

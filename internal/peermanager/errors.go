package peermanager

import "errors"

var (
	ErrSelfConnection     = errors.New("peermanager: refused self connection")
	ErrBannedAddress      = errors.New("peermanager: address currently banned")
	ErrDuplicateConnection = errors.New("peermanager: duplicate connection rejected")
)

package orderbook

import "errors"

var (
	ErrZeroSize          = errors.New("orderbook: zero size")
	ErrZeroAmount        = errors.New("orderbook: zero amount")
	ErrZeroPrice         = errors.New("orderbook: zero price")
	ErrNotAllowed        = errors.New("orderbook: caller not allowed")
	ErrBrokerOnly        = errors.New("orderbook: broker only")
	ErrOrderTypeMismatch = errors.New("orderbook: order type mismatch")
	ErrLimitPrice        = errors.New("orderbook: limit price not reached")
	ErrCollaborator      = errors.New("orderbook: collaborator failure")
	ErrCorruptStore      = errors.New("orderbook: corrupt store snapshot")
	ErrPersist           = errors.New("orderbook: persist failed")
)

package domain

import (
	"errors"
	"fmt"
)

// ErrValidation 是所有参数校验错误的根，HTTP 层统一映射为 422
var ErrValidation = errors.New("validation error")

var (
	ErrInvalidAmount   = fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	ErrPolicyViolation = fmt.Errorf("%w: terms rejected by admission policy", ErrValidation)
	ErrInvalidParty    = fmt.Errorf("%w: buyer and vendor must be distinct, non-empty parties", ErrValidation)
)

var (
	ErrProductUnavailable = errors.New("product is unavailable")
	ErrBidNotFound        = errors.New("bid not found")
	ErrNotYourTurn        = errors.New("it is not your turn to act on this bid")
	ErrBidNotPending      = errors.New("bid is no longer pending")
	ErrBidExpired         = errors.New("bid has expired")
	ErrConflict           = errors.New("bid was modified concurrently, refetch and retry")
	ErrOutOfStock         = errors.New("insufficient stock to accept bid")
	ErrDownstreamFailure  = errors.New("order or invoice creation failed")
	ErrUnauthorized       = errors.New("actor is not a party to this bid")
	ErrNotOverdue         = errors.New("bid has not reached its validity deadline")
	ErrCorruptState       = errors.New("stored bid state is inconsistent")
)

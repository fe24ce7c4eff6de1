package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// PositionRef identifies the pool and time window of one LP position
type PositionRef struct {
	PoolAddress string    `json:"pool_address" validate:"required,min=32,max=64,alphanum"`
	OpenTime    time.Time `json:"open_time" validate:"required"`
	CloseTime   time.Time `json:"close_time" validate:"required,gtefield=OpenTime"`
}

// Validate checks the struct tags of the position
func (p PositionRef) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid position %s: %w", p.PoolAddress, err)
	}
	return nil
}

// Duration returns how long the position was open
func (p PositionRef) Duration() time.Duration {
	return p.CloseTime.Sub(p.OpenTime)
}

// RequestedRange is a caller request for one pool's series
type RequestedRange struct {
	Pool         string    `validate:"required,min=32,max=64,alphanum"`
	Start        time.Time `validate:"required"`
	End          time.Time `validate:"required,gtefield=Start"`
	Timeframe    Timeframe `validate:"required,oneof=10min 30min 1h 4h 1d"`
	ForceRefetch bool
	UseCacheOnly bool
}

// Validate checks the struct tags of the request
func (r RequestedRange) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid request for pool %s: %w", r.Pool, err)
	}
	return nil
}

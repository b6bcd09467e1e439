//go:build !linux

package transport

import (
	"fmt"

	"go.uber.org/zap"
)

// NewBluezTransport is only available on Linux, where BlueZ lives.
func NewBluezTransport(adapter string, log *zap.Logger) (Transport, error) {
	return nil, fmt.Errorf("bluez: transport requires linux")
}

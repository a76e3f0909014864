//go:build !cgo

package sqlite

import (
	"fmt"

	"github.com/kartikbazzad/edgedb/internal/config"
	"github.com/kartikbazzad/edgedb/internal/errors"
)

func driverAvailable(driver string) error {
	switch driver {
	case config.DriverModernc:
		return nil
	case config.DriverMattn:
		return fmt.Errorf("%w: %s requires cgo", errors.ErrDriverUnavailable, driver)
	default:
		return errors.ErrUnknownDriver
	}
}

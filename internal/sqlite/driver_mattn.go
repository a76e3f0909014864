//go:build cgo

package sqlite

import (
	stderrors "errors"

	"github.com/mattn/go-sqlite3"

	"github.com/kartikbazzad/edgedb/internal/config"
	"github.com/kartikbazzad/edgedb/internal/errors"
)

func init() {
	// sqlite3.Error carries its result code in a field, not a Code method.
	errors.RegisterCodeExtractor(func(err error) (int, bool) {
		var se sqlite3.Error
		if stderrors.As(err, &se) {
			return int(se.Code), true
		}
		return 0, false
	})
}

func driverAvailable(driver string) error {
	switch driver {
	case config.DriverModernc, config.DriverMattn:
		return nil
	default:
		return errors.ErrUnknownDriver
	}
}

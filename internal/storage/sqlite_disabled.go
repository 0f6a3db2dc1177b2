//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	logx "verdictbot/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	return nil, errors.New("sqlite storage requires building with -tags sqlite")
}

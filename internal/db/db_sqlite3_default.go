//go:build !sqlite3_cgo

package db

import (
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// pure Go build, used unless built with -tags sqlite3_cgo
const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)

func fileDSN(path string) string {
	return fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc&_pragma=busy_timeout(5000)", path)
}

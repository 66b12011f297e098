//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Registers vec0 as an auto-loadable extension with mattn/go-sqlite3,
	// per the teacher's internal/store/init_vec.go.
	vec.Auto()
}

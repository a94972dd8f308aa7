//go:build !purego

package shardstore

// cgo build: mattn/go-sqlite3 wraps the C sqlite3 amalgamation directly.
// Faster and the better-trodden path, but requires a C toolchain at build
// time — unavailable on some cross-compiled shard-node images, hence the
// purego alternate in driver_purego.go.
import _ "github.com/mattn/go-sqlite3"

const driverName = "sqlite3"

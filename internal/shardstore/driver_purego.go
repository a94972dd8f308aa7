//go:build purego

package shardstore

// purego build: modernc.org/sqlite is a pure-Go transpilation of sqlite3,
// no cgo required. Selected with `go build -tags purego` for shard-node
// images that cross-compile without a C toolchain.
import _ "modernc.org/sqlite"

const driverName = "sqlite"

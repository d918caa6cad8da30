// Package util provides shared utility functions.
package util

import (
	"fmt"
	"hash/fnv"
)

// SessionID computes a 4-byte hash from a session's local and remote
// endpoints. The hash only tags log lines; it is never sent on the wire.
func SessionID(local, remote string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(local))
	h.Write([]byte(remote))
	return h.Sum32()
}

// SessionTag renders SessionID as the fixed-width hex prefix used in logs.
func SessionTag(local, remote string) string {
	return fmt.Sprintf("%08x", SessionID(local, remote))
}

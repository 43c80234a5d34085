//go:build !windows

package ipc

import (
	"fmt"
	"net"
)

// pipeClientProcessID has no non-Windows equivalent; the named-pipe
// transport itself is Windows-only, so a connection reaching this
// platform is already an anomaly.
func pipeClientProcessID(conn net.Conn) (uint32, error) {
	return 0, fmt.Errorf("named pipe client PID resolution is only supported on Windows")
}

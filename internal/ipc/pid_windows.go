//go:build windows

package ipc

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/windows"
)

// pipeClientProcessID resolves the process id of the peer on the other
// end of an accepted named-pipe connection via GetNamedPipeClientProcessId,
// which operates on the pipe's underlying kernel handle. go-winio's
// connection type exposes that handle through syscall.Conn, the same
// mechanism it uses internally for overlapped I/O.
func pipeClientProcessID(conn net.Conn) (uint32, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("connection does not expose a raw handle")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("failed to obtain raw conn: %w", err)
	}

	var pid uint32
	var ctrlErr error
	err = raw.Control(func(fd uintptr) {
		ctrlErr = windows.GetNamedPipeClientProcessId(windows.Handle(fd), &pid)
	})
	if err != nil {
		return 0, err
	}
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return pid, nil
}

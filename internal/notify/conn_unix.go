// conn_unix.go dials the notification sink's Unix domain socket.
//
// This file is compiled on all non-Windows platforms (Linux, macOS, *BSD).
// The companion UI listens on a socket inside the data directory; the daemon
// dials it lazily on the first send.

//go:build !windows

package notify

import (
	"net"
	"time"
)

// sinkDial connects to the sink socket at path.
func sinkDial(path string) (net.Conn, error) {
	return net.DialTimeout("unix", path, 2*time.Second)
}

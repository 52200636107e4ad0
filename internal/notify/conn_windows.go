// conn_windows.go dials the notification sink's named pipe using the
// go-winio library. Windows has no Unix domain sockets for this use; the
// companion UI listens on \\.\pipe\standby-sink instead and the socket path
// from config is ignored.

//go:build windows

package notify

import (
	"net"
	"time"

	"github.com/Microsoft/go-winio"
	"tools.zach/dev/standby/internal/paths"
)

// sinkDial connects to the sink named pipe. The path argument is unused on
// Windows; the pipe name is derived from the binary name.
func sinkDial(_ string) (net.Conn, error) {
	timeout := 2 * time.Second
	return winio.DialPipe(`\\.\pipe\`+paths.SinkSocket, &timeout)
}

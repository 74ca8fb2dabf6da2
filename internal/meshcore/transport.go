package meshcore

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"go.bug.st/serial"
)

// tcpScheme prefixes companion addresses reached over TCP
// (for example tcp://192.168.1.20:5000).
const tcpScheme = "tcp://"

// Dial opens the transport named by port. Ports starting with tcp:// are
// dialled over TCP; anything else is opened as a serial device at baudrate
// with 8 data bits, no parity and one stop bit.
func Dial(ctx context.Context, port string, baudrate int) (io.ReadWriteCloser, error) {
	if addr, ok := strings.CutPrefix(port, tcpScheme); ok {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn, nil
	}

	if port == "" {
		return nil, fmt.Errorf("serial: empty port name")
	}
	mode := &serial.Mode{
		BaudRate: baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", port, err)
	}
	return p, nil
}

// IsTCP reports whether port names a TCP companion address.
func IsTCP(port string) bool {
	return strings.HasPrefix(port, tcpScheme)
}

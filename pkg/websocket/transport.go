package websocket

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the slice of a WebSocket connection the registry needs for
// routing. *websocket.Conn satisfies it; tests substitute fakes.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type sendErrorClass int

const (
	sendOK sendErrorClass = iota
	// sendTransient covers timeouts and resets: worth a retry.
	sendTransient
	// sendDefinitive covers closed connections, broken pipes and invalid
	// transport state: the peer is gone, disconnect immediately.
	sendDefinitive
)

var errConnectionClosed = errors.New("connection closed")

// classifySendError sorts a send failure into the retry taxonomy. Unknown
// errors default to transient so a flaky transport gets its retries before
// the connection is dropped.
func classifySendError(err error) sendErrorClass {
	if err == nil {
		return sendOK
	}

	if errors.Is(err, errConnectionClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) {
		return sendDefinitive
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return sendDefinitive
	}

	if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "broken pipe") {
		return sendDefinitive
	}

	return sendTransient
}

package probe

import "context"

// MessageType mirrors the WebSocket data opcodes.
type MessageType int

const (
	TextMessage   MessageType = 1
	BinaryMessage MessageType = 2
	CloseMessage  MessageType = 8
)

// CloseNormalClosure is the status sent on a graceful disconnect.
const CloseNormalClosure = 1000

// Frame describes one chunk written into the caller's buffer by Receive.
// Only buf[:Count] holds data. Final marks the last chunk of a message.
type Frame struct {
	Count int
	Final bool
	Type  MessageType
}

// Socket is an established message-oriented connection.
// Implementations must abort a blocked Send or Receive when ctx is done.
type Socket interface {
	Send(ctx context.Context, typ MessageType, data []byte, final bool) error
	Receive(ctx context.Context, buf []byte) (Frame, error)
	Close(ctx context.Context, code int, reason string) error
}

// Discarder is implemented by sockets that can drop the unread rest of the
// current message, so the next Receive starts on a new one.
type Discarder interface {
	Discard()
}

// Dialer opens a Socket to a URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

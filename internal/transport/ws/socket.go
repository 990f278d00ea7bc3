package ws

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"

	"deribit-probe/internal/probe"
)

// DefaultCloseTimeout bounds the close handshake when ctx has no deadline.
const DefaultCloseTimeout = 5 * time.Second

// Socket adapts a gorilla connection to probe.Socket. Frames returned by
// Receive are the chunks read from the current message; Final is set once
// the message is exhausted.
type Socket struct {
	conn *websocket.Conn

	reader  io.Reader
	msgType probe.MessageType
	writer  io.WriteCloser
}

func NewSocket(conn *websocket.Conn) *Socket {
	return &Socket{conn: conn}
}

// Conn exposes the underlying connection.
func (s *Socket) Conn() *websocket.Conn {
	return s.conn
}

func (s *Socket) Send(ctx context.Context, typ probe.MessageType, data []byte, final bool) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	// gorilla resets the net.Conn deadline before every frame write, so a
	// cancelled write is aborted by closing the connection instead.
	deadline, _ := ctx.Deadline()
	_ = s.conn.SetWriteDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.UnderlyingConn().Close()
	})
	defer stop()

	if s.writer == nil {
		w, err := s.conn.NextWriter(int(typ))
		if err != nil {
			return contextErr(ctx, err)
		}
		s.writer = w
	}

	if _, err := s.writer.Write(data); err != nil {
		s.writer = nil
		return contextErr(ctx, err)
	}

	if final {
		err := s.writer.Close()
		s.writer = nil
		if err != nil {
			return contextErr(ctx, err)
		}
	}
	return nil
}

func (s *Socket) Receive(ctx context.Context, buf []byte) (probe.Frame, error) {
	if err := ctx.Err(); err != nil {
		return probe.Frame{}, context.Cause(ctx)
	}
	stop := abortOnDone(ctx, s.conn.UnderlyingConn().SetReadDeadline)
	defer stop()

	if s.reader == nil {
		typ, r, err := s.conn.NextReader()
		if err != nil {
			return probe.Frame{}, contextErr(ctx, err)
		}
		s.reader = r
		s.msgType = probe.MessageType(typ)
	}

	n, err := s.reader.Read(buf)
	switch {
	case errors.Is(err, io.EOF):
		s.reader = nil
		return probe.Frame{Count: n, Final: true, Type: s.msgType}, nil
	case err != nil:
		s.reader = nil
		return probe.Frame{}, contextErr(ctx, err)
	}
	return probe.Frame{Count: n, Type: s.msgType}, nil
}

// Discard abandons the message being read. gorilla skips its remaining
// frames on the next NextReader call.
func (s *Socket) Discard() {
	s.reader = nil
}

// Close sends a close frame, waits briefly for the peer to answer and then
// drops the connection.
func (s *Socket) Close(ctx context.Context, code int, reason string) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultCloseTimeout)
	}

	msg := websocket.FormatCloseMessage(code, reason)
	err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	if err == nil {
		s.awaitClose(ctx, deadline)
	}

	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Socket) awaitClose(ctx context.Context, deadline time.Time) {
	stop := abortOnDone(ctx, s.conn.UnderlyingConn().SetReadDeadline)
	defer stop()

	_ = s.conn.SetReadDeadline(deadline)
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}

// abortOnDone pushes the deadline into the past once ctx is done so a
// blocked read or write returns.
func abortOnDone(ctx context.Context, setDeadline func(time.Time) error) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = setDeadline(time.Now())
	})
}

func contextErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return err
}

// Package exchangetest runs an in-process stand-in for the exchange's
// WebSocket JSON-RPC endpoint.
package exchangetest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"deribit-probe/internal/codec"
	"deribit-probe/internal/model"
	"deribit-probe/internal/probe"
	"deribit-probe/internal/transport/ws"
)

// Path is the route the exchange serves its API on.
const Path = "/ws/api/v2"

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
)

// CloseFrame is a close status received from a client.
type CloseFrame struct {
	Code   int
	Reason string
}

type Option func(*Server)

// WithVersion sets the version reported by public/test.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithFrameSize caps the payload of every frame the server writes, so
// replies longer than n bytes arrive fragmented.
func WithFrameSize(n int) Option {
	return func(s *Server) {
		s.frameSize = n
		s.up.WriteBufferSize = n
	}
}

// WithPadding adds a "padding" entry of n bytes to the public/test result.
func WithPadding(n int) Option {
	return func(s *Server) {
		s.padding = n
	}
}

// WithSilence makes the server read requests without ever answering.
func WithSilence() Option {
	return func(s *Server) {
		s.silent = true
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// Server answers public/test over WebSocket.
type Server struct {
	version   string
	padding   int
	silent    bool
	frameSize int

	up    websocket.Upgrader
	codec codec.Codec
	log   zerolog.Logger
	ts    *httptest.Server

	mu       sync.Mutex
	requests []string
	closes   []CloseFrame
	dialed   []string
}

// NewServer starts a server. Call Close when done.
func NewServer(options ...Option) *Server {
	s := &Server{
		version: model.JSONRPCVersion,
		codec:   codec.NewJSONCodec(),
		log:     zerolog.Nop(),
		up: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	for _, applyOption := range options {
		applyOption(s)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET(Path, s.handleWS)

	s.ts = httptest.NewServer(r)
	return s
}

// URL is the ws:// address of the API route.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http") + Path
}

func (s *Server) Close() {
	s.ts.Close()
}

// Requests returns the raw text of every message received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Closes returns the close frames clients have sent.
func (s *Server) Closes() []CloseFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CloseFrame(nil), s.closes...)
}

// Dialed returns the URLs clients asked the Dialer for.
func (s *Server) Dialed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dialed...)
}

// Dialer connects to this server whatever URL it is asked for.
func (s *Server) Dialer() probe.Dialer {
	return &redirectDialer{srv: s, next: ws.NewDialer()}
}

type redirectDialer struct {
	srv  *Server
	next *ws.Dialer
}

func (d *redirectDialer) Dial(ctx context.Context, url string) (probe.Socket, error) {
	d.srv.mu.Lock()
	d.srv.dialed = append(d.srv.dialed, url)
	d.srv.mu.Unlock()
	return d.next.Dial(ctx, d.srv.URL())
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("Upgrade failed")
		return
	}
	defer conn.Close()

	s.log.Debug().Str("remote", c.Request.RemoteAddr).Msg("New connection")
	s.handleConn(conn)
}

func (s *Server) handleConn(conn *websocket.Conn) {
	conn.SetCloseHandler(func(code int, text string) error {
		s.mu.Lock()
		s.closes = append(s.closes, CloseFrame{Code: code, Reason: text})
		s.mu.Unlock()

		msg := websocket.FormatCloseMessage(code, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return nil
	})

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("Read error")
			}
			return
		}

		s.mu.Lock()
		s.requests = append(s.requests, string(b))
		s.mu.Unlock()

		if s.silent {
			continue
		}

		reply := s.reply(b)
		payload, err := s.codec.Encode(reply)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to encode reply")
			return
		}
		if err := s.write(conn, payload); err != nil {
			s.log.Debug().Err(err).Msg("Write error")
			return
		}
	}
}

// write sends payload as one text message. With a frame size set, the
// payload goes out in chunks that each fill the connection's write buffer,
// so every chunk becomes its own frame.
func (s *Server) write(conn *websocket.Conn, payload []byte) error {
	if s.frameSize <= 0 {
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	for len(payload) > 0 {
		n := min(s.frameSize, len(payload))
		if _, err := w.Write(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return w.Close()
}

func (s *Server) reply(b []byte) any {
	usIn := uint64(time.Now().UnixMicro())

	var req model.Request[map[string]any]
	if err := s.codec.Decode(b, &req); err != nil {
		return s.envelope(0, usIn, &model.ResponseError{Code: codeParseError, Message: "Parse error"})
	}

	switch req.Method {
	case model.MethodTest:
		result := map[string]string{"version": s.version}
		if s.padding > 0 {
			result["padding"] = strings.Repeat("x", s.padding)
		}
		return model.TestResponse{
			Response: s.envelope(req.ID, usIn, nil),
			Result:   result,
		}
	default:
		return s.envelope(req.ID, usIn, &model.ResponseError{
			Code:    codeMethodNotFound,
			Message: "Method not found",
			Data:    map[string]string{"method": req.Method},
		})
	}
}

func (s *Server) envelope(id int64, usIn uint64, rerr *model.ResponseError) model.Response {
	usOut := uint64(time.Now().UnixMicro())
	return model.Response{
		ID:      id,
		JSONRPC: model.JSONRPCVersion,
		UsIn:    usIn,
		UsOut:   usOut,
		UsDiff:  int64(usOut - usIn),
		Testnet: true,
		Error:   rerr,
	}
}

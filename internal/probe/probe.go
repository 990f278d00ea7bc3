// Package probe checks that the exchange is reachable and speaks the
// expected API version by running a single public/test round trip.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"deribit-probe/internal/codec"
	"deribit-probe/internal/model"
	"deribit-probe/internal/trace"
)

// Endpoint is the exchange test environment.
const Endpoint = "wss://test.deribit.com/ws/api/v2"

// ReadBufferSize is the size of the buffer handed to Socket.Receive.
const ReadBufferSize = 4096

const (
	closeReason    = "END"
	probeRequestID = 1

	traceSending = "Sending message to the server"
	traceWaiting = "Waiting for response from the server"
)

var readBuffers = sync.Pool{
	New: func() any {
		b := make([]byte, ReadBufferSize)
		return &b
	},
}

// Probe runs the public/test exchange. It keeps no per-call state, so one
// Probe may serve several sockets at once; a single Socket must not be
// shared by concurrent calls.
type Probe struct {
	codec          codec.Codec
	trace          trace.Sink
	log            zerolog.Logger
	maxMessageSize int
}

type Option func(*Probe)

func WithCodec(c codec.Codec) Option {
	return func(p *Probe) {
		p.codec = c
	}
}

func WithTraceSink(s trace.Sink) Option {
	return func(p *Probe) {
		p.trace = s
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Probe) {
		p.log = l
	}
}

// WithMaxMessageSize bounds the size of a reassembled message. Zero, the
// default, means unbounded: a peer that never sends a final frame keeps the
// receive loop running until ctx is done.
func WithMaxMessageSize(n int) Option {
	return func(p *Probe) {
		p.maxMessageSize = n
	}
}

func New(options ...Option) *Probe {
	p := &Probe{
		codec: codec.NewJSONCodec(),
		trace: trace.Nop{},
		log:   zerolog.Nop(),
	}

	for _, applyOption := range options {
		applyOption(p)
	}

	return p
}

// Endpoint returns the URL Connect dials.
func (p *Probe) Endpoint() string {
	return Endpoint
}

// Connect opens a socket to the exchange. There is no retry.
func (p *Probe) Connect(ctx context.Context, d Dialer) (Socket, error) {
	p.log.Debug().Str("url", Endpoint).Msg("Trying to connect to the server")

	sock, err := d.Dial(ctx, Endpoint)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}

	p.log.Debug().Msg("Connection to the server established")
	return sock, nil
}

// Disconnect closes the socket with a normal closure. Callers own the
// socket and must call this themselves.
func (p *Probe) Disconnect(ctx context.Context, sock Socket) error {
	p.log.Debug().Msg("Trying to disconnect from the server")

	if err := sock.Close(ctx, CloseNormalClosure, closeReason); err != nil {
		return &ConnectionError{Op: "disconnect", Err: err}
	}

	p.log.Debug().Msg("Disconnected from the server")
	return nil
}

// Result is the outcome of a completed exchange.
type Result struct {
	Match    bool
	Version  string
	Response *model.TestResponse
}

// Run sends public/test and reports whether the version in the reply equals
// expectedVersion. A mismatch, including a reply without a version, is
// false with a nil error.
func (p *Probe) Run(ctx context.Context, sock Socket, expectedVersion string) (bool, error) {
	res, err := p.Check(ctx, sock, expectedVersion)
	if err != nil {
		return false, err
	}
	return res.Match, nil
}

// Check is Run with the decoded reply attached.
func (p *Probe) Check(ctx context.Context, sock Socket, expectedVersion string) (Result, error) {
	// nothing may be traced or sent once the caller has given up
	if err := cancelled(ctx); err != nil {
		return Result{}, err
	}

	req := model.NewRequest(probeRequestID, model.MethodTest, model.EmptyParams{})

	payload, err := p.codec.Encode(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode request: %w", err)
	}

	p.trace.Trace(string(payload))
	p.trace.Trace(traceSending)

	sendErr := sock.Send(ctx, TextMessage, payload, true)

	if err := cancelled(ctx); err != nil {
		return Result{}, err
	}
	if sendErr != nil {
		return Result{}, &ConnectionError{Op: "send", Err: sendErr}
	}

	p.trace.Trace(traceWaiting)

	raw, err := p.ReceiveMessage(ctx, sock)
	if err != nil {
		return Result{}, err
	}

	var resp *model.TestResponse
	if err := p.codec.Decode([]byte(raw), &resp); err != nil {
		return Result{}, &ProtocolError{Raw: raw, Err: err}
	}
	if resp == nil {
		return Result{}, &ProtocolError{Raw: raw}
	}

	if rerr := resp.Err(); rerr != nil {
		p.log.Warn().Err(rerr).Int64("id", resp.ID).Msg("Exchange reported an error")
	}

	version := resp.Version()
	p.log.Debug().
		Str("version", version).
		Str("expected", expectedVersion).
		Int64("us_diff", resp.UsDiff).
		Msg("Received test response")

	return Result{
		Match:    version == expectedVersion,
		Version:  version,
		Response: resp,
	}, nil
}

// ReceiveMessage reads frames until the final one and returns the whole
// message. A cancelled read discards whatever was collected.
func (p *Probe) ReceiveMessage(ctx context.Context, sock Socket) (string, error) {
	bufp := readBuffers.Get().(*[]byte)
	defer readBuffers.Put(bufp)
	buf := *bufp

	var msg strings.Builder
	for {
		frame, err := sock.Receive(ctx, buf)
		if err != nil {
			if cerr := cancelled(ctx); cerr != nil {
				return "", cerr
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", &CancelledError{Cause: err}
			}
			return "", &ConnectionError{Op: "receive", Err: err}
		}

		if frame.Count < 0 || frame.Count > len(buf) {
			discard(sock, frame)
			return "", &ProtocolError{
				Raw: msg.String(),
				Err: fmt.Errorf("frame count %d outside buffer of %d bytes", frame.Count, len(buf)),
			}
		}
		if p.maxMessageSize > 0 && msg.Len()+frame.Count > p.maxMessageSize {
			discard(sock, frame)
			return "", fmt.Errorf("%w: limit %d bytes", ErrMessageTooLarge, p.maxMessageSize)
		}

		msg.Write(buf[:frame.Count])

		if frame.Final {
			break
		}
	}

	return msg.String(), nil
}

// discard drops the rest of a message abandoned before its final frame.
func discard(sock Socket, frame Frame) {
	if frame.Final {
		return
	}
	if d, ok := sock.(Discarder); ok {
		d.Discard()
	}
}

func cancelled(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return &CancelledError{Cause: context.Cause(ctx)}
}

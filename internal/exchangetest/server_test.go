package exchangetest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deribit-probe/internal/codec"
	"deribit-probe/internal/exchangetest"
	"deribit-probe/internal/model"
	"deribit-probe/internal/probe"
	"deribit-probe/internal/trace"
)

const expectedRequest = `{"id":1,"jsonrpc":"2.0","method":"public/test","params":{}}`

func connect(t *testing.T, srv *exchangetest.Server, p *probe.Probe) probe.Socket {
	t.Helper()
	sock, err := p.Connect(context.Background(), srv.Dialer())
	require.NoError(t, err)
	return sock
}

func TestProbeAgainstServer(t *testing.T) {
	tests := []struct {
		name     string
		options  []exchangetest.Option
		expected string
		want     bool
	}{
		{name: "match", expected: "2.0", want: true},
		{name: "mismatch", options: []exchangetest.Option{exchangetest.WithVersion("1.5")}, expected: "1.0", want: false},
		{
			name:     "fragmented",
			options:  []exchangetest.Option{exchangetest.WithFrameSize(16), exchangetest.WithPadding(3 * probe.ReadBufferSize)},
			expected: "2.0",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := exchangetest.NewServer(tt.options...)
			defer srv.Close()

			rec := &trace.Recorder{}
			p := probe.New(probe.WithTraceSink(rec))
			sock := connect(t, srv, p)

			ok, err := p.Run(context.Background(), sock, tt.expected)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)

			require.NoError(t, p.Disconnect(context.Background(), sock))

			assert.Len(t, rec.Entries(), 3)
			assert.Equal(t, []string{expectedRequest}, srv.Requests())
			assert.Equal(t, []string{probe.Endpoint}, srv.Dialed())
			assert.Equal(t, []exchangetest.CloseFrame{{Code: probe.CloseNormalClosure, Reason: "END"}}, srv.Closes())
		})
	}
}

// countingSocket records the byte count of every frame Receive reports.
type countingSocket struct {
	probe.Socket

	mu     sync.Mutex
	counts []int
}

func (s *countingSocket) Receive(ctx context.Context, buf []byte) (probe.Frame, error) {
	f, err := s.Socket.Receive(ctx, buf)
	if err == nil {
		s.mu.Lock()
		s.counts = append(s.counts, f.Count)
		s.mu.Unlock()
	}
	return f, err
}

func (s *countingSocket) Counts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.counts...)
}

func TestFrameSizeSplitsReplyIntoFrames(t *testing.T) {
	const frameSize = 16

	srv := exchangetest.NewServer(exchangetest.WithFrameSize(frameSize), exchangetest.WithPadding(100))
	defer srv.Close()

	p := probe.New()
	sock := &countingSocket{Socket: connect(t, srv, p)}
	defer p.Disconnect(context.Background(), sock)

	ok, err := p.Run(context.Background(), sock, "2.0")
	require.NoError(t, err)
	assert.True(t, ok)

	counts := sock.Counts()
	assert.Greater(t, len(counts), 100/frameSize)
	for _, n := range counts {
		assert.LessOrEqual(t, n, frameSize)
	}
}

func TestCheckReportsServerTimestamps(t *testing.T) {
	srv := exchangetest.NewServer(exchangetest.WithVersion("1.2.26"))
	defer srv.Close()

	p := probe.New()
	sock := connect(t, srv, p)
	defer p.Disconnect(context.Background(), sock)

	res, err := p.Check(context.Background(), sock, "1.2.26")
	require.NoError(t, err)
	assert.True(t, res.Match)
	require.NotNil(t, res.Response)
	assert.Equal(t, int64(1), res.Response.ID)
	assert.Equal(t, model.JSONRPCVersion, res.Response.JSONRPC)
	assert.True(t, res.Response.Testnet)
	assert.NotZero(t, res.Response.UsIn)
	assert.GreaterOrEqual(t, res.Response.UsOut, res.Response.UsIn)
}

func TestProbeCancelledWhileServerSilent(t *testing.T) {
	srv := exchangetest.NewServer(exchangetest.WithSilence())
	defer srv.Close()

	rec := &trace.Recorder{}
	p := probe.New(probe.WithTraceSink(rec))
	sock := connect(t, srv, p)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	ok, err := p.Run(ctx, sock, "2.0")
	assert.False(t, ok)
	assert.ErrorIs(t, err, probe.ErrCancelled)
	assert.Len(t, rec.Entries(), 3)

	_ = p.Disconnect(context.Background(), sock)
	assert.Equal(t, []string{expectedRequest}, srv.Requests())
}

func TestProbeMaxMessageSize(t *testing.T) {
	srv := exchangetest.NewServer(exchangetest.WithPadding(1024))
	defer srv.Close()

	p := probe.New(probe.WithMaxMessageSize(512))
	sock := connect(t, srv, p)
	defer p.Disconnect(context.Background(), sock)

	_, err := p.Run(context.Background(), sock, "2.0")
	assert.ErrorIs(t, err, probe.ErrMessageTooLarge)
}

func TestOversizedReplyDoesNotLeakIntoNextRun(t *testing.T) {
	srv := exchangetest.NewServer(exchangetest.WithPadding(1024))
	defer srv.Close()

	bounded := probe.New(probe.WithMaxMessageSize(512))
	sock := connect(t, srv, bounded)
	defer bounded.Disconnect(context.Background(), sock)

	_, err := bounded.Run(context.Background(), sock, "2.0")
	require.ErrorIs(t, err, probe.ErrMessageTooLarge)

	ok, err := probe.New().Run(context.Background(), sock, "2.0")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, srv.Requests(), 2)
}

func TestUnknownMethodReturnsError(t *testing.T) {
	srv := exchangetest.NewServer()
	defer srv.Close()

	p := probe.New()
	sock := connect(t, srv, p)
	defer p.Disconnect(context.Background(), sock)

	c := codec.NewJSONCodec()
	payload, err := c.Encode(model.NewRequest[*model.EmptyParams](7, "public/get_time", nil))
	require.NoError(t, err)
	require.NoError(t, sock.Send(context.Background(), probe.TextMessage, payload, true))

	raw, err := p.ReceiveMessage(context.Background(), sock)
	require.NoError(t, err)

	var resp model.Response
	require.NoError(t, c.Decode([]byte(raw), &resp))
	assert.Equal(t, int64(7), resp.ID)

	var rerr *model.ResponseError
	require.ErrorAs(t, resp.Err(), &rerr)
	assert.Equal(t, -32601, rerr.Code)
	assert.Equal(t, map[string]any{"method": "public/get_time"}, rerr.Data)
}

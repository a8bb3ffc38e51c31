package gateway

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/apetrei/audioscope/pkg/telemetry"
)

type fakeMsg struct {
	data   []byte
	binary bool
}

// fakeConn is an in-memory Conn for exercising sessions and the gateway
// without a network.
type fakeConn struct {
	addr   string
	inbox  chan fakeMsg
	writes chan fakeMsg

	// writeBlock, when non-nil, stalls every Write until it is closed.
	writeBlock chan struct{}

	mu          sync.Mutex
	pingErr     error
	closed      bool
	closeReason string
	closedCh    chan struct{}
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{
		addr:     addr,
		inbox:    make(chan fakeMsg, 64),
		writes:   make(chan fakeMsg, 256),
		closedCh: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, bool, error) {
	select {
	case m, ok := <-c.inbox:
		if !ok {
			return nil, false, io.EOF
		}
		return m.data, m.binary, nil
	case <-c.closedCh:
		return nil, false, net.ErrClosed
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte, binary bool) error {
	if c.writeBlock != nil {
		select {
		case <-c.writeBlock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-c.closedCh:
		return net.ErrClosed
	default:
	}
	c.writes <- fakeMsg{data: data, binary: binary}
	return nil
}

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) setPingErr(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeReason = reason
		close(c.closedCh)
	}
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) closedReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// send queues an inbound message for the session to read.
func (c *fakeConn) send(data []byte, binary bool) {
	c.inbox <- fakeMsg{data: data, binary: binary}
}

// endInput closes the inbound stream so the next Read returns io.EOF.
func (c *fakeConn) endInput() {
	close(c.inbox)
}

// frameBytes encodes a valid audio frame carrying the given samples.
func frameBytes(ts uint32, samples []int16) []byte {
	payload := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(payload[i*2:], uint16(s))
	}
	return telemetry.Encode(telemetry.RawFrame{
		Type:       telemetry.TypeAudioFrame,
		Timestamp:  ts,
		SampleRate: 16000,
		ChunkSize:  len(samples),
		Payload:    payload,
	})
}

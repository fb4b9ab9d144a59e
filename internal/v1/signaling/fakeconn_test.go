package signaling

import (
	"errors"
	"sync"
	"time"
)

// fakeConn is an in-memory wsConnection double, grounded on the teacher's
// own mock-connection pattern in session/client_test.go (constructing
// MockConnections with scripted ReadMessage sequences).
type fakeConn struct {
	mu       sync.Mutex
	inbound  [][]byte
	inboundT []int
	readIdx  int
	outbound [][]byte
	closed   bool
}

func newFakeConn(frames ...[]byte) *fakeConn {
	c := &fakeConn{}
	for _, f := range frames {
		c.inbound = append(c.inbound, f)
		c.inboundT = append(c.inboundT, 1) // websocket.TextMessage
	}
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readIdx >= len(c.inbound) {
		return 0, nil, errors.New("fakeConn: no more frames")
	}
	idx := c.readIdx
	c.readIdx++
	return c.inboundT[idx], c.inbound[idx], nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.outbound = append(c.outbound, cp)
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetReadLimit(limit int64)           {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) outboundCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbound)
}

func (c *fakeConn) outboundAt(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbound[i]
}

package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BasicAcid/locnet/internal/wire"
	"github.com/BasicAcid/locnet/internal/xerrors"
)

// Correlator adapts a Session for outbound, request/response use: it runs
// a background reader pumping ReceiveMessage and resolves pending callers
// by message id. This mirrors original_source/network.hpp's
// ProtoBufNetworkSession, which keeps a map<RequestId, promise<Response>>
// for exactly this purpose; a NodeDispatcher-driven Session never needs
// one since its dispatch loop IS the reader.
type Correlator struct {
	sess *Session
	log  *zap.Logger

	mu      sync.Mutex
	pending map[uint32]chan *wire.Response
	closed  bool
}

// NewCorrelator starts the background reader for sess. Stop must be
// called to release the reader goroutine.
func NewCorrelator(sess *Session, log *zap.Logger) *Correlator {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Correlator{
		sess:    sess,
		log:     log.With(zap.String("component", "correlator"), zap.String("session", sess.ID())),
		pending: make(map[uint32]chan *wire.Response),
	}
	go c.readLoop()
	return c
}

func (c *Correlator) readLoop() {
	for {
		msg, err := c.sess.ReceiveMessage()
		if err != nil {
			c.failAll(err)
			return
		}
		if !msg.IsResponse() {
			c.log.Warn("discarding unexpected request on outbound session", zap.String("variant", msg.Req.Variant()))
			continue
		}
		c.resolve(msg.ID, msg.Resp)
	}
}

func (c *Correlator) resolve(id uint32, resp *wire.Response) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *Correlator) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.log.Debug("outbound session reader stopped", zap.Error(err))
}

// Request sends req and blocks until its matching Response arrives, ctx is
// done, or the underlying connection dies.
func (c *Correlator) Request(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	id := c.sess.NextRequestID()
	ch := make(chan *wire.Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, xerrors.Transport.New("session closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	msg := &wire.Message{ID: id, Version: wire.CurrentVersion, Req: req}
	if err := c.sess.SendMessage(msg); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, xerrors.Transport.Wrap(ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return nil, xerrors.Transport.New("session closed while awaiting response")
		}
		return resp, nil
	}
}

// Stop closes the underlying session, which unblocks the reader goroutine.
func (c *Correlator) Stop() error {
	return c.sess.Close()
}

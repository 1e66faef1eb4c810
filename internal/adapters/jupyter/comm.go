package jupyter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
)

const commInboundBuffer = 256

// comm is a kernel comm exposed as a channel.
type comm struct {
	kernel  *kernel
	id      string
	target  string
	inbound chan []byte
	done    chan struct{}
	once    sync.Once
}

var _ ports.Channel = (*comm)(nil)

func newComm(k *kernel, id, target string) *comm {
	return &comm{
		kernel:  k,
		id:      id,
		target:  target,
		inbound: make(chan []byte, commInboundBuffer),
		done:    make(chan struct{}),
	}
}

func (c *comm) ID() string     { return c.id }
func (c *comm) Target() string { return c.target }

func (c *comm) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return fmt.Errorf("send on channel %s: %w", c.id, domain.ErrChannelLost)
	default:
	}
	if !json.Valid(data) {
		return fmt.Errorf("send on channel %s: payload is not valid JSON", c.id)
	}
	return c.kernel.send(msgCommMsg, commContent{CommID: c.id, Data: json.RawMessage(data)})
}

func (c *comm) Inbound() <-chan []byte { return c.inbound }
func (c *comm) Done() <-chan struct{}  { return c.done }

// Close tells the kernel side to close the comm. The first call wins.
func (c *comm) Close() error {
	if !c.markClosed() {
		return nil
	}
	c.kernel.removeComm(c.id)
	if err := c.kernel.send(msgCommClose, commContent{CommID: c.id, Data: json.RawMessage("{}")}); err != nil {
		c.kernel.log.Debug("comm close not delivered")
	}
	return nil
}

func (c *comm) markClosed() bool {
	closed := false
	c.once.Do(func() {
		close(c.done)
		closed = true
	})
	return closed
}

func (c *comm) deliver(data json.RawMessage) {
	select {
	case c.inbound <- []byte(data):
	case <-c.done:
	}
}

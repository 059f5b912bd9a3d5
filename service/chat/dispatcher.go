package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(hs ...Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range hs {
		d.handlers[h.Event()] = h
	}
}

func (d *Dispatcher) GetHandler(event string) Handler {
	d.mu.RLock()
	h, ok := d.handlers[event]
	d.mu.RUnlock()
	if !ok {
		glog.Infof("no handler for event=%s", event)
		return nil
	}
	return h
}

func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, event string, data json.RawMessage) error {
	h := d.GetHandler(event)
	if h == nil {
		return fmt.Errorf("no handler for event=%s", event)
	}
	glog.V(2).Infof("[dispatch] conn=%s user=%s event=%s len=%d", c.ConnID, c.UserID, event, len(data))
	return h.Handle(ctx, c, data)
}

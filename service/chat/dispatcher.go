package chat

import (
	"context"
	"encoding/json"

	"PChatGate/tools/errs"

	"github.com/golang/glog"
)

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(hs ...Handler) {
	for _, h := range hs {
		d.handlers[h.Event()] = h
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, c *Context, f *Frame) error {
	h := d.GetHandler(f.Event)
	if h == nil {
		return errs.ErrInvalidInput.WrapMsg("unknown event", "event", f.Event)
	}
	return h.Handle(ctx, c, json.RawMessage(f.Data))
}

func (d *Dispatcher) GetHandler(event string) Handler {
	h, ok := d.handlers[event]
	if !ok {
		glog.Infof("no handler for event=%s", event)
		return nil
	}
	return h
}

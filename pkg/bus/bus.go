// Package bus wraps a NATS JetStream connection. The daemon publishes failed
// apply outcomes to a dead-letter subject; ifsyncctl consumes them for
// inspection and replay.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/nats-io/nats.go"
)

// Bus is a thin JSON-publishing layer over NATS JetStream.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Connect dials the NATS endpoint and opens a JetStream context.
func Connect(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &Bus{conn: nc, js: js}, nil
}

// Close drains and shuts down the connection. Safe on a nil bus.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// PublishJSON encodes v and publishes it to subject. Safe on a nil bus, so
// callers without a configured broker need no guard.
func (b *Bus) PublishJSON(ctx context.Context, subject string, v any) error {
	if b == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = b.js.Publish(subject, data, nats.Context(ctx))
	return err
}

type watcher struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
}

func (w *watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.sub.Drain()
}

// Watch creates a durable consumer on subject and invokes fn per message.
// Messages are acked only after fn returns without error.
func (b *Bus) Watch(ctx context.Context, subject, durable string, fn func(data []byte) error) (io.Closer, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	sub, err := b.js.Subscribe(subject, func(msg *nats.Msg) {
		if err := fn(msg.Data); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.Durable(durable), nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		return nil, err
	}

	w := &watcher{sub: sub}
	go func() {
		<-ctx.Done()
		_ = w.Close()
	}()
	return w, nil
}

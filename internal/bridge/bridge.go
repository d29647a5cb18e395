// Package bridge republishes locally originated events to every instance
// and fans broker events back out to the connections held here.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cwrk-planet/chat-service/internal/broker"
	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/event"
	"github.com/cwrk-planet/chat-service/internal/registry"
)

// Fanout is the part of the registry the listener delivers into.
type Fanout interface {
	Broadcast(s registry.Scope, render registry.Render) int
	SendGlobal(userID int64, frame any) bool
}

type Options struct {
	Channel        string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// OnStatus is called with true once subscribed and with false when the
	// subscription is lost.
	OnStatus func(subscribed bool)
}

type Bridge struct {
	broker broker.Broker
	fanout Fanout
	opts   Options

	ready     chan struct{}
	readyOnce sync.Once
}

func New(b broker.Broker, fanout Fanout, opts Options) *Bridge {
	if opts.Channel == "" {
		opts.Channel = broker.DefaultChannel
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Bridge{
		broker: b,
		fanout: fanout,
		opts:   opts,
		ready:  make(chan struct{}),
	}
}

// Ready is closed after the first successful subscription.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// Publish hands e to the broker. Delivery to subscribers is not confirmed.
func (b *Bridge) Publish(ctx context.Context, e event.Event) error {
	data, err := event.Encode(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typeOf(e), err)
	}
	if err := b.broker.Publish(ctx, b.opts.Channel, data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type(), err)
	}
	return nil
}

// Listen consumes the shared channel until ctx is done. A broken
// subscription is re-established with exponential backoff.
func (b *Bridge) Listen(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.opts.InitialBackoff
	bo.MaxInterval = b.opts.MaxBackoff

	attempt := 0
	for {
		subscribed, err := b.listenOnce(ctx)
		if ctx.Err() != nil {
			slog.Info("bridge: listener stopped", "channel", b.opts.Channel)
			return nil
		}
		if subscribed {
			bo.Reset()
			attempt = 0
		}
		attempt++

		delay := bo.NextBackOff()
		slog.Warn("bridge: subscription lost, resubscribing",
			"channel", b.opts.Channel, "attempt", attempt, "delay", delay.String(), "err", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			slog.Info("bridge: listener stopped", "channel", b.opts.Channel)
			return nil
		case <-t.C:
		}
	}
}

func (b *Bridge) listenOnce(ctx context.Context) (bool, error) {
	sub, err := b.broker.Subscribe(ctx, b.opts.Channel)
	if err != nil {
		return false, err
	}
	defer func() { _ = sub.Close() }()

	b.setStatus(true)
	defer b.setStatus(false)
	slog.Info("bridge: subscribed", "channel", b.opts.Channel)

	for {
		payload, err := sub.Receive(ctx)
		if err != nil {
			return true, fmt.Errorf("receive: %w", err)
		}
		b.handle(payload)
	}
}

func (b *Bridge) setStatus(subscribed bool) {
	if subscribed {
		b.readyOnce.Do(func() { close(b.ready) })
	}
	if b.opts.OnStatus != nil {
		b.opts.OnStatus(subscribed)
	}
}

func (b *Bridge) handle(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bridge: dispatch panic",
				"panic", r, "stack", string(debug.Stack()))
		}
	}()

	e, err := event.Decode(payload)
	if err != nil {
		slog.Warn("bridge: dropping undecodable event", "err", err)
		return
	}
	b.Dispatch(e)
}

// Dispatch delivers e to matching local connections and returns how many
// received it.
func (b *Bridge) Dispatch(e event.Event) int {
	switch v := e.(type) {
	case event.RoomMessage:
		return b.fanout.Broadcast(registry.Room(v.RoomID), func(rcpt int64) any {
			f := domain.NewRoomFrame(v.Text, v.SenderID, rcpt, v.Author)
			f.MessageID = v.MessageID
			return f
		})
	case event.GlobalNotification:
		if !b.fanout.SendGlobal(v.RecipientID, v.Notification) {
			slog.Debug("bridge: notification recipient not here", "recipient", v.RecipientID)
			return 0
		}
		return 1
	case event.Presence:
		frame := domain.PresenceFrame{
			Type:     domain.FramePresenceUpdate,
			UserID:   v.UserID,
			IsOnline: v.IsOnline,
		}
		return b.fanout.Broadcast(registry.Global, func(int64) any { return frame })
	default:
		slog.Warn("bridge: unhandled event", "type", typeOf(e))
		return 0
	}
}

func typeOf(e event.Event) string {
	if e == nil {
		return "<nil>"
	}
	return string(e.Type())
}

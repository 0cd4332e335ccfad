package sseclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/cenkalti/backoff.v1"
	"nhooyr.io/websocket"
)

// WebSocketTransport delivers events pushed over a WebSocket. It is selected
// for ws:// and wss:// URLs.
//
// Each text frame is an envelope:
//
//	{"event": "ping", "id": "42", "data": "ok!"}
//
// A string data field is delivered as-is; any other JSON value is delivered as
// its raw JSON text. Frames that are not envelopes are delivered whole as
// unnamed messages.
//
// A rejected handshake closes the source. Network failures and dropped
// connections are redialled according to OpenOptions.Reconnect.
type WebSocketTransport struct{}

// WebSocketEnvelope is the wire format read by WebSocketTransport.
type WebSocketEnvelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

type websocketSource struct {
	*eventTarget
}

func (WebSocketTransport) Open(rawURL string, opts OpenOptions) Source {
	target, ctx := newEventTarget(rawURL, opts)
	s := &websocketSource{eventTarget: target}
	go s.run(ctx, opts)
	return s
}

func (s *websocketSource) run(ctx context.Context, opts OpenOptions) {
	b := opts.Reconnect.backOff(ctx)
	for {
		err := s.session(ctx, opts, b)
		if ctx.Err() != nil {
			return
		}
		if perm, ok := err.(*backoff.PermanentError); ok {
			s.fail(perm.Err)
			return
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			s.fail(err)
			return
		}
		s.log.Debug().Dur("delay", next).Msg("retrying stream")
		s.reconnecting(err)

		t := time.NewTimer(next)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session dials once and reads until the connection drops.
func (s *websocketSource) session(ctx context.Context, opts OpenOptions, b backoff.BackOff) error {
	conn, resp, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: mergeHeaders(opts.Headers),
	})
	if err != nil {
		err = fmt.Errorf("websocket dial: %w", err)
		if resp != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "client disconnect")

	b.Reset()
	s.setOpen()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		s.dispatch(decodeEnvelope(data))
	}
}

func decodeEnvelope(frame []byte) *MessageEvent {
	var env WebSocketEnvelope
	if err := json.Unmarshal(frame, &env); err != nil || len(env.Data) == 0 {
		return &MessageEvent{Type: DefaultEvent, Data: string(frame)}
	}

	ev := &MessageEvent{Type: env.Event, LastEventID: env.ID}
	var text string
	if err := json.Unmarshal(env.Data, &text); err == nil {
		ev.Data = text
	} else {
		ev.Data = string(env.Data)
	}
	return ev
}

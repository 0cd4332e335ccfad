package sseclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	sse "github.com/tmaxmax/go-sse"
)

// NativeTransport is the default transport, backed by github.com/tmaxmax/go-sse.
// The library reconnects dropped streams and sends Last-Event-ID; each drop is
// reported to the error hook.
type NativeTransport struct{}

type nativeSource struct {
	*eventTarget
}

func (NativeTransport) Open(rawURL string, opts OpenOptions) Source {
	target, ctx := newEventTarget(rawURL, opts)
	s := &nativeSource{eventTarget: target}
	go s.run(ctx, opts)
	return s
}

func (s *nativeSource) run(ctx context.Context, opts OpenOptions) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		s.fail(fmt.Errorf("create request: %w", err))
		return
	}
	req.Header = mergeHeaders(opts.Headers)
	req.Header.Set("Accept", "text/event-stream")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	policy := opts.Reconnect.withDefaults()
	client := &sse.Client{
		HTTPClient: httpClient,
		ResponseValidator: func(resp *http.Response) error {
			if err := sse.DefaultValidator(resp); err != nil {
				return err
			}
			s.setOpen()
			return nil
		},
		OnRetry: func(err error, delay time.Duration) {
			s.log.Debug().Dur("delay", delay).Msg("retrying stream")
			s.reconnecting(err)
		},
		Backoff: sse.Backoff{
			InitialInterval: policy.BaseDelay,
			MaxInterval:     policy.MaxDelay,
			MaxRetries:      policy.MaxAttempts,
		},
	}

	conn := client.NewConnection(req)
	conn.SubscribeToAll(func(ev sse.Event) {
		s.dispatch(&MessageEvent{
			Type:        ev.Type,
			Data:        ev.Data,
			LastEventID: ev.LastEventID,
		})
	})

	// Connect only returns once the context is done or retries are exhausted.
	err = conn.Connect()
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = io.EOF
	}
	s.fail(err)
}

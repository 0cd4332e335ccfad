package sseclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	r3sse "github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"
)

// PolyfillTransport is the alternate transport, backed by
// github.com/r3labs/sse/v2. It is selected with WithPolyfill(true) and
// honours PolyfillOptions. Reconnection follows the same ReconnectPolicy as
// NativeTransport.
type PolyfillTransport struct{}

type polyfillSource struct {
	*eventTarget
}

func (PolyfillTransport) Open(rawURL string, opts OpenOptions) Source {
	target, ctx := newEventTarget(rawURL, opts)
	s := &polyfillSource{eventTarget: target}
	go s.run(ctx, opts)
	return s
}

func (s *polyfillSource) run(ctx context.Context, opts OpenOptions) {
	var clientOpts []func(*r3sse.Client)
	if opts.Polyfill.MaxBufferSize > 0 {
		clientOpts = append(clientOpts, r3sse.ClientMaxBufferSize(opts.Polyfill.MaxBufferSize))
	}
	client := r3sse.NewClient(s.url, clientOpts...)

	hc := &http.Client{}
	if opts.HTTPClient != nil {
		copied := *opts.HTTPClient
		hc = &copied
	}
	hc.Transport = streamEndTransport{base: hc.Transport}
	client.Connection = hc

	client.Headers = map[string]string{}
	for k, v := range mergeHeaders(opts.Headers, opts.Polyfill.Headers) {
		client.Headers[k] = v[0]
	}
	client.EncodingBase64 = opts.Polyfill.EncodingBase64

	strategy := opts.Reconnect.backOff(ctx)
	client.ReconnectStrategy = strategy
	client.ReconnectNotify = func(err error, delay time.Duration) {
		s.log.Debug().Dur("delay", delay).Msg("retrying stream")
		s.reconnecting(err)
	}
	client.ResponseValidator = func(_ *r3sse.Client, resp *http.Response) error {
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return backoff.Permanent(fmt.Errorf("sseclient: unexpected status %d from %s", resp.StatusCode, s.url))
		}
		strategy.Reset()
		s.setOpen()
		return nil
	}

	err := client.SubscribeRawWithContext(ctx, func(msg *r3sse.Event) {
		s.dispatch(&MessageEvent{
			Type:        string(msg.Event),
			Data:        string(msg.Data),
			LastEventID: string(msg.ID),
		})
	})
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = io.EOF
	}
	s.fail(err)
}

// streamEndTransport turns a cleanly ended response body into
// io.ErrUnexpectedEOF. r3labs/sse only reconnects on read errors, while a
// server closing the stream must also be reconnected.
type streamEndTransport struct {
	base http.RoundTripper
}

func (t streamEndTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = streamEndBody{ReadCloser: resp.Body}
	return resp, nil
}

type streamEndBody struct {
	io.ReadCloser
}

func (b streamEndBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

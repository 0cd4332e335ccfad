package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tserkov/sseclient"
	"golang.org/x/sync/errgroup"
)

var (
	listenEvents      []string
	listenFormat      string
	listenPolyfill    bool
	listenCredentials bool
	listenHeaders     []string
	listenCount       int
	listenTimeout     time.Duration
	listenMaxRetries  int
)

func init() {
	listenCmd.Flags().StringSliceVarP(&listenEvents, "event", "e", []string{sseclient.DefaultEvent}, "Event types to subscribe to")
	listenCmd.Flags().StringVar(&listenFormat, "format", "", "Payload format: plain or json (default from config)")
	listenCmd.Flags().BoolVar(&listenPolyfill, "polyfill", false, "Force the polyfill transport")
	listenCmd.Flags().BoolVar(&listenCredentials, "credentials", false, "Send cookies with the stream request")
	listenCmd.Flags().StringArrayVarP(&listenHeaders, "header", "H", nil, "Extra request header (\"Key: Value\"), repeatable")
	listenCmd.Flags().IntVarP(&listenCount, "count", "n", 0, "Exit after this many events across all streams (0 = unlimited)")
	listenCmd.Flags().DurationVar(&listenTimeout, "timeout", 10*time.Second, "Time allowed for each connection to open")
	listenCmd.Flags().IntVar(&listenMaxRetries, "max-retries", 0, "Reconnect attempts after a drop (0 = forever, -1 = never; default from config)")
	rootCmd.AddCommand(listenCmd)
}

// eventLine is one line of listen output.
type eventLine struct {
	Client      string `json:"client"`
	URL         string `json:"url"`
	Event       string `json:"event"`
	LastEventID string `json:"lastEventId,omitempty"`
	Data        any    `json:"data"`
}

var listenCmd = &cobra.Command{
	Use:   "listen [url...]",
	Short: "Stream events from one or more endpoints",
	Long: `Connect to each URL and print every received event as a JSON line.

With no URL the configured default is used. Headers from the config file
apply to every stream; --header adds to them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		urls, err := streamURLs(cfg, args)
		if err != nil {
			return err
		}

		scopeOpts, err := parseHeaders(listenHeaders)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("format") {
			scopeOpts = append(scopeOpts, sseclient.WithFormat(sseclient.ParseFormat(listenFormat)))
		}
		if cmd.Flags().Changed("polyfill") {
			scopeOpts = append(scopeOpts, sseclient.WithPolyfill(listenPolyfill))
		}
		if cmd.Flags().Changed("credentials") {
			scopeOpts = append(scopeOpts, sseclient.WithCredentials(listenCredentials))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)

		if cmd.Flags().Changed("max-retries") {
			cfg.Reconnect.MaxAttempts = listenMaxRetries
		}

		manager, err := newManager(cfg)
		if err != nil {
			return err
		}
		scope := manager.NewScope(scopeOpts...)
		defer scope.Teardown()

		var live atomic.Int32
		live.Store(int32(len(urls)))

		sink := &lineWriter{w: cmd.OutOrStdout(), limit: int64(listenCount), done: func() { cancel(errCountReached) }}

		g, gctx := errgroup.WithContext(ctx)
		for _, u := range urls {
			client := scope.CreateURL(u)
			for _, event := range listenEvents {
				client.On(event, func(data any, lastEventID string) {
					sink.write(eventLine{
						Client:      client.ID(),
						URL:         client.URL(),
						Event:       event,
						LastEventID: lastEventID,
						Data:        data,
					})
				})
			}
			client.OnError(func(err error) {
				src := client.Source()
				if src == nil || src.ReadyState() != sseclient.Closed {
					logger.Warn().Err(err).Str("url", client.URL()).Msg("stream error")
					return
				}
				logger.Error().Err(err).Str("url", client.URL()).Msg("stream closed")
				if live.Add(-1) == 0 {
					cancel(errStreamsClosed)
				}
			})

			g.Go(func() error {
				connectCtx, cancel := context.WithTimeout(gctx, listenTimeout)
				defer cancel()
				if err := client.Connect(connectCtx); err != nil {
					return fmt.Errorf("connect %s: %w", client.URL(), err)
				}
				logger.Info().Str("url", client.URL()).Str("client", client.ID()).Msg("listening")
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		<-ctx.Done()
		switch cause := context.Cause(ctx); cause {
		case errStreamsClosed:
			return cause
		case errCountReached, context.Canceled:
		default:
			logger.Debug().Err(cause).Msg("listen stopped")
		}
		return nil
	},
}

var (
	errCountReached  = errors.New("event count reached")
	errStreamsClosed = errors.New("all streams closed")
)

// lineWriter serializes event lines from concurrent streams and stops once
// limit lines have been written.
type lineWriter struct {
	mu    sync.Mutex
	w     io.Writer
	n     atomic.Int64
	limit int64
	done  func()
}

func (lw *lineWriter) write(line eventLine) {
	if lw.limit > 0 && lw.n.Load() >= lw.limit {
		return
	}
	b, err := json.Marshal(line)
	if err != nil {
		logger.Warn().Err(err).Str("event", line.Event).Msg("cannot encode event")
		return
	}

	lw.mu.Lock()
	if lw.limit > 0 && lw.n.Load() >= lw.limit {
		lw.mu.Unlock()
		return
	}
	fmt.Fprintln(lw.w, string(b))
	n := lw.n.Add(1)
	lw.mu.Unlock()

	if lw.limit > 0 && n == lw.limit {
		lw.done()
	}
}

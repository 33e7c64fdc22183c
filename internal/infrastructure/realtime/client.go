// Package realtime is a change feed over a Phoenix-channel websocket, the
// protocol spoken by Supabase Realtime.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/localmart/marketplace-client/internal/core/ports"
	"github.com/localmart/marketplace-client/internal/pkg/metrics"
)

const (
	driverName        = "websocket"
	heartbeatInterval = 30 * time.Second
	handshakeTimeout  = 10 * time.Second
	writeTimeout      = 10 * time.Second
)

// Message is one Phoenix frame.
type Message struct {
	Topic   string         `json:"topic"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
	Ref     string         `json:"ref,omitempty"`
	JoinRef string         `json:"join_ref,omitempty"`
}

// Config configures a Client.
type Config struct {
	// URL is the service base URL (http, https, ws or wss).
	URL        string
	APIKey     string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Heartbeat  time.Duration
}

// Client implements ports.ChangeFeed. Run owns the connection: it dials,
// joins every registered channel, and on failure reconnects with capped
// backoff, rejoins, and sends each watcher a Resync notice.
type Client struct {
	url       string
	heartbeat time.Duration
	minBO     time.Duration
	maxBO     time.Duration
	dialer    websocket.Dialer
	log       zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	ref      int
	channels map[int]*channel

	writeMu sync.Mutex
}

type channel struct {
	id      int
	topic   string
	spec    ports.WatchSpec
	notify  func(ports.ChangeNotice)
	joinRef string
}

// NewClient creates a Client. Nothing is dialed until Run.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	wsURL, err := websocketURL(cfg.URL, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	hb := cfg.Heartbeat
	if hb <= 0 {
		hb = heartbeatInterval
	}
	return &Client{
		url:       wsURL,
		heartbeat: hb,
		minBO:     cfg.MinBackoff,
		maxBO:     cfg.MaxBackoff,
		dialer:    websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:       log,
		channels:  make(map[int]*channel),
	}, nil
}

// Watch registers a channel for spec. If connected it is joined now,
// otherwise on the next connect.
func (c *Client) Watch(ctx context.Context, spec ports.WatchSpec, notify func(ports.ChangeNotice)) (ports.Watch, error) {
	if spec.Collection == "" {
		return nil, errors.New("watch: empty collection")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.ref++
	ch := &channel{id: c.ref, topic: Topic(spec), spec: spec, notify: notify}
	c.channels[ch.id] = ch
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.join(conn, ch); err != nil {
			// The read loop sees the broken connection and rejoins.
			c.log.Warn().Err(err).Str("topic", ch.topic).Msg("join failed, will retry on reconnect")
		}
	}
	return &watch{client: c, id: ch.id}, nil
}

type watch struct {
	client *Client
	id     int
	once   sync.Once
}

func (w *watch) Close() error {
	var err error
	w.once.Do(func() { err = w.client.leave(w.id) })
	return err
}

// Run keeps the connection up until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	bo := reconnectBackOff(c.minBO, c.maxBO)
	first := true
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !first {
				metrics.RealtimeReconnectsTotal.WithLabelValues(driverName, "error").Inc()
			}
			delay := bo.NextBackOff()
			c.log.Warn().Err(err).Dur("retry_in", delay).Msg("realtime dial failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}

		if !first {
			metrics.RealtimeReconnectsTotal.WithLabelValues(driverName, "ok").Inc()
		}
		c.log.Info().Bool("reconnect", !first).Msg("realtime connected")
		bo.Reset()
		c.serve(ctx, conn, !first)
		first = false
		if ctx.Err() != nil {
			return nil
		}
	}
}

// reconnectBackOff doubles from initial up to maxDelay with ±20% jitter.
// Zero bounds fall back to 250ms and 30s.
func reconnectBackOff(initial, maxDelay time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	if initial > 0 {
		bo.InitialInterval = initial
	}
	if maxDelay >= bo.InitialInterval {
		bo.MaxInterval = maxDelay
	}
	bo.Reset()
	return bo
}

// serve runs one connection until it breaks or ctx is done.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn, resync bool) {
	c.mu.Lock()
	c.conn = conn
	chans := make([]*channel, 0, len(c.channels))
	for _, ch := range c.channels {
		chans = append(chans, ch)
	}
	c.mu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(connCtx, func() { _ = conn.Close() })
	defer stop()

	for _, ch := range chans {
		if err := c.join(conn, ch); err != nil {
			c.log.Warn().Err(err).Str("topic", ch.topic).Msg("rejoin failed")
		}
		if resync {
			ch.notify(ports.ChangeNotice{Collection: ch.spec.Collection, Resync: true})
		}
	}

	go c.heartbeatLoop(connCtx, conn)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if connCtx.Err() == nil {
				c.log.Warn().Err(err).Msg("realtime connection lost")
			}
			break
		}
		c.dispatch(msg)
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) dispatch(msg Message) {
	kind := msg.Event
	if t, ok := msg.Payload["type"].(string); ok {
		kind = t
	}

	var resync bool
	switch strings.ToUpper(kind) {
	case "INSERT", "UPDATE", "DELETE", "POSTGRES_CHANGES":
	case "PHX_ERROR", "PHX_CLOSE":
		resync = true
	default:
		return
	}

	c.mu.Lock()
	var targets []*channel
	for _, ch := range c.channels {
		if ch.topic == msg.Topic {
			targets = append(targets, ch)
		}
	}
	conn := c.conn
	c.mu.Unlock()

	for _, ch := range targets {
		if resync {
			// The server dropped the channel; rejoin and let the watcher re-read.
			if conn != nil {
				_ = c.join(conn, ch)
			}
			ch.notify(ports.ChangeNotice{Collection: ch.spec.Collection, Resync: true})
			continue
		}
		ch.notify(ports.ChangeNotice{
			Collection: ch.spec.Collection,
			Operation:  strings.ToLower(kind),
			DocumentID: recordID(msg.Payload),
		})
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := Message{Topic: "phoenix", Event: "heartbeat", Payload: map[string]any{}, Ref: c.nextRef()}
			if err := c.write(conn, msg); err != nil {
				c.log.Debug().Err(err).Msg("heartbeat failed")
				return
			}
		}
	}
}

func (c *Client) join(conn *websocket.Conn, ch *channel) error {
	ref := c.nextRef()
	c.mu.Lock()
	ch.joinRef = ref
	c.mu.Unlock()
	return c.write(conn, Message{
		Topic:   ch.topic,
		Event:   "phx_join",
		Payload: joinPayload(ch.spec),
		Ref:     ref,
		JoinRef: ref,
	})
}

func (c *Client) leave(id int) error {
	c.mu.Lock()
	ch, ok := c.channels[id]
	delete(c.channels, id)
	conn := c.conn
	var joinRef string
	shared := false
	if ok {
		joinRef = ch.joinRef
		for _, other := range c.channels {
			if other.topic == ch.topic {
				shared = true
				break
			}
		}
	}
	c.mu.Unlock()

	if !ok || conn == nil || shared {
		return nil
	}
	err := c.write(conn, Message{
		Topic:   ch.topic,
		Event:   "phx_leave",
		Payload: map[string]any{},
		Ref:     c.nextRef(),
		JoinRef: joinRef,
	})
	if err != nil {
		return fmt.Errorf("send leave: %w", err)
	}
	return nil
}

func (c *Client) write(conn *websocket.Conn, msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (c *Client) nextRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref++
	return strconv.Itoa(c.ref)
}

// Topic names the channel for spec, e.g. realtime:public:orders:business_id=eq.b1.
func Topic(spec ports.WatchSpec) string {
	topic := "realtime:public:" + spec.Collection
	if f := filterExpr(spec.Filter); f != "" {
		topic += ":" + f
	}
	return topic
}

func joinPayload(spec ports.WatchSpec) map[string]any {
	change := map[string]any{"event": "*", "schema": "public", "table": spec.Collection}
	if f := filterExpr(spec.Filter); f != "" {
		change["filter"] = f
	}
	return map[string]any{
		"config": map[string]any{"postgres_changes": []any{change}},
	}
}

func filterExpr(filter map[string]any) string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=eq.%v", k, filter[k]))
	}
	return strings.Join(parts, ",")
}

func recordID(payload map[string]any) string {
	for _, key := range []string{"record", "old_record"} {
		if rec, ok := payload[key].(map[string]any); ok {
			if id, ok := rec["id"]; ok {
				return fmt.Sprint(id)
			}
		}
	}
	return ""
}

func websocketURL(base, apiKey string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("realtime url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("realtime url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime/v1/websocket"
	q := u.Query()
	if apiKey != "" {
		q.Set("apikey", apiKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

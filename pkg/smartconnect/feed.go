package smartconnect

import (
	"context"
	"encoding/binary"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	feedURI           = "wss://smartapisocket.angelone.in/smart-stream"
	heartbeatMessage  = "ping"
	heartbeatInterval = 10 * time.Second

	subscribeAction   = 1
	unsubscribeAction = 0
	modeLTP           = 1
)

// Exchange type codes on the feed.
const (
	ExchangeNSECM = 1
	ExchangeNSEFO = 2
	ExchangeBSECM = 3
	ExchangeMCXFO = 5
)

// Tick is one LTP update. Price arrives in paise on the wire; it is converted
// to rupees here.
type Tick struct {
	Token      string
	Exchange   int
	LTP        decimal.Decimal
	ExchangeTS time.Time
}

// SubscriptionEntry groups feed tokens by exchange type for subscribe calls.
type SubscriptionEntry struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

// Feed is an LTP-mode tick feed with heartbeat and auto-reconnect. Subscribed
// tokens are replayed after every reconnect.
type Feed struct {
	authToken  string
	apiKey     string
	clientCode string
	feedToken  string

	conn *websocket.Conn

	mu   sync.Mutex
	subs map[int][]string // exchangeType -> tokens

	maxRetries int
	retryDelay time.Duration

	OnTick func(Tick)
	OnOpen func()

	ctx    context.Context
	cancel context.CancelFunc
}

// NewFeed builds a feed from an authenticated client's tokens.
func NewFeed(c *Client, apiKey string) (*Feed, error) {
	if c.AccessToken() == "" || c.FeedToken() == "" {
		return nil, errors.New("smartconnect feed: login before opening the feed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		authToken:  c.AccessToken(),
		apiKey:     apiKey,
		clientCode: c.ClientCode(),
		feedToken:  c.FeedToken(),
		subs:       make(map[int][]string),
		maxRetries: 5,
		retryDelay: 5 * time.Second,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Connect dials the stream and starts the read and heartbeat loops.
func (f *Feed) Connect() error {
	header := http.Header{}
	header.Add("Authorization", f.authToken)
	header.Add("x-api-key", f.apiKey)
	header.Add("x-client-code", f.clientCode)
	header.Add("x-feed-token", f.feedToken)

	conn, resp, err := websocket.DefaultDialer.Dial(feedURI, header)
	if err != nil {
		if resp != nil {
			log.Printf("[feed] dial failed, status: %s", resp.Status)
		}
		return err
	}
	f.conn = conn

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	go f.readLoop()
	go f.heartbeatLoop()

	if f.OnOpen != nil {
		f.OnOpen()
	}
	return nil
}

// Close shuts the feed down; no reconnect after this.
func (f *Feed) Close() {
	f.cancel()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
}

// Subscribe adds tokens in LTP mode and records them for resubscribe.
func (f *Feed) Subscribe(correlationID string, entries []SubscriptionEntry) error {
	f.mu.Lock()
	for _, e := range entries {
		f.subs[e.ExchangeType] = append(f.subs[e.ExchangeType], e.Tokens...)
	}
	f.mu.Unlock()
	return f.send(correlationID, subscribeAction, entries)
}

// Unsubscribe removes tokens from the feed and the resubscribe set.
func (f *Feed) Unsubscribe(correlationID string, entries []SubscriptionEntry) error {
	f.mu.Lock()
	for _, e := range entries {
		f.subs[e.ExchangeType] = removeTokens(f.subs[e.ExchangeType], e.Tokens)
		if len(f.subs[e.ExchangeType]) == 0 {
			delete(f.subs, e.ExchangeType)
		}
	}
	f.mu.Unlock()
	return f.send(correlationID, unsubscribeAction, entries)
}

func removeTokens(src, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		drop[r] = struct{}{}
	}
	out := src[:0]
	for _, v := range src {
		if _, ok := drop[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

func (f *Feed) send(correlationID string, action int, entries []SubscriptionEntry) error {
	if f.conn == nil {
		return errors.New("smartconnect feed: not connected")
	}
	return f.conn.WriteJSON(map[string]any{
		"correlationID": correlationID,
		"action":        action,
		"params": map[string]any{
			"mode":      modeLTP,
			"tokenList": entries,
		},
	})
}

func (f *Feed) resubscribe() error {
	f.mu.Lock()
	var entries []SubscriptionEntry
	for ex, toks := range f.subs {
		entries = append(entries, SubscriptionEntry{ExchangeType: ex, Tokens: append([]string(nil), toks...)})
	}
	f.mu.Unlock()
	if len(entries) == 0 {
		return nil
	}
	return f.send("resub", subscribeAction, entries)
}

func (f *Feed) readLoop() {
	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		mt, message, err := f.conn.ReadMessage()
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			log.Printf("[feed] read error: %v", err)
			f.reconnect()
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			tick, ok := parseLTPPacket(message)
			if ok && f.OnTick != nil {
				f.OnTick(tick)
			}
		case websocket.TextMessage:
			// "pong" and subscription acks arrive as text; nothing to do.
		}
	}
}

func (f *Feed) reconnect() {
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		select {
		case <-f.ctx.Done():
			return
		case <-time.After(f.retryDelay):
		}
		log.Printf("[feed] reconnect attempt %d/%d", attempt, f.maxRetries)
		if err := f.Connect(); err != nil {
			continue
		}
		if err := f.resubscribe(); err != nil {
			log.Printf("[feed] resubscribe failed: %v", err)
		}
		return
	}
	log.Printf("[feed] gave up after %d reconnect attempts", f.maxRetries)
}

func (f *Feed) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			if f.conn == nil {
				continue
			}
			if err := f.conn.WriteMessage(websocket.PingMessage, []byte(heartbeatMessage)); err != nil {
				log.Printf("[feed] ping write error: %v", err)
				return
			}
		}
	}
}

// parseLTPPacket decodes the fixed 51-byte LTP frame:
// mode(1) exchange(1) token(25, NUL-padded) seq(8) exchangeTS(8) ltp-paise(8).
func parseLTPPacket(b []byte) (Tick, bool) {
	if len(b) < 51 {
		return Tick{}, false
	}
	exType := int(b[1])
	token := b[2:27]
	end := len(token)
	for i, c := range token {
		if c == 0 {
			end = i
			break
		}
	}
	exTS := int64(binary.LittleEndian.Uint64(b[35:43]))
	paise := int64(binary.LittleEndian.Uint64(b[43:51]))

	return Tick{
		Token:      string(token[:end]),
		Exchange:   exType,
		LTP:        decimal.New(paise, -2),
		ExchangeTS: time.UnixMilli(exTS),
	}, true
}

// Package polygon streams per-minute crypto aggregates from the Polygon
// websocket feed and turns each message group into a snapshot batch.
package polygon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rewired-gh/pulsewatch/internal/logger"
	"github.com/rewired-gh/pulsewatch/internal/models"
	"github.com/sirupsen/logrus"
)

const DefaultURL = "wss://socket.polygon.io/crypto"

const aggregateEvent = "XA"

type Config struct {
	URL            string
	APIKey         string
	Pairs          []string
	ReconnectDelay time.Duration
	// ReadTimeout bounds the silence tolerated before reconnecting.
	ReadTimeout time.Duration
}

// Stream maintains the websocket session, reconnecting until its context ends.
type Stream struct {
	config Config
	dialer *websocket.Dialer
	log    *logrus.Entry
}

type aggregate struct {
	Event  string  `json:"ev"`
	Pair   string  `json:"pair"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
	VWAP   float64 `json:"vw"`
	End    int64   `json:"e"`
}

type controlMessage struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

func NewStream(config Config) *Stream {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 2 * time.Minute
	}
	return &Stream{
		config: config,
		dialer: websocket.DefaultDialer,
		log:    logger.WithField("source", "polygon"),
	}
}

// Run delivers batches on out until ctx is cancelled. Sends block, so a slow
// consumer applies backpressure to the socket reader.
func (s *Stream) Run(ctx context.Context, out chan<- []models.AssetSnapshot) error {
	if len(s.config.Pairs) == 0 {
		return errors.New("polygon: no pairs configured")
	}
	for {
		err := s.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warnf("Stream disconnected: %v, reconnecting in %v", err, s.config.ReconnectDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.ReconnectDelay):
		}
	}
}

func (s *Stream) session(ctx context.Context, out chan<- []models.AssetSnapshot) error {
	conn, _, err := s.dialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(controlMessage{Action: "auth", Params: s.config.APIKey}); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := conn.WriteJSON(controlMessage{Action: "subscribe", Params: subscriptionParams(s.config.Pairs)}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.log.Infof("Subscribed to %d pairs", len(s.config.Pairs))

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		batch, err := ParseMessage(data)
		if err != nil {
			s.log.Debugf("Ignoring undecodable message: %v", err)
			continue
		}
		if len(batch) == 0 {
			continue
		}
		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func subscriptionParams(pairs []string) string {
	params := make([]string, len(pairs))
	for i, p := range pairs {
		params[i] = aggregateEvent + "." + strings.ToUpper(strings.TrimSpace(p))
	}
	return strings.Join(params, ",")
}

// ParseMessage decodes one websocket frame. Status events and aggregates
// without a usable pair are dropped.
func ParseMessage(data []byte) ([]models.AssetSnapshot, error) {
	var events []aggregate
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	var batch []models.AssetSnapshot
	for _, ev := range events {
		if ev.Event != aggregateEvent {
			continue
		}
		symbol := SymbolFromPair(ev.Pair)
		if symbol == "" {
			continue
		}
		ts := time.Now().UTC()
		if ev.End > 0 {
			ts = time.UnixMilli(ev.End).UTC()
		}
		batch = append(batch, models.AssetSnapshot{
			Symbol:    symbol,
			Name:      strings.ToUpper(ev.Pair),
			Price:     ev.Close,
			Volume:    ev.Volume,
			VWAP:      ev.VWAP,
			Timestamp: ts,
		})
	}
	return batch, nil
}

// SymbolFromPair maps "BTC-USD" to "BTC".
func SymbolFromPair(pair string) string {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	base, _, _ := strings.Cut(pair, "-")
	return base
}

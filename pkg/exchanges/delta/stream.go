package delta

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/optimuslab/delta-feed/pkg/exchanges/interfaces"
	"github.com/optimuslab/delta-feed/pkg/logging"
	"github.com/optimuslab/delta-feed/pkg/websocket"
)

// defaultWSURL is Delta's public websocket endpoint.
const defaultWSURL = "wss://socket.delta.exchange"

// subscribeFrame is the channel-subscription envelope the exchange
// expects on the socket.
type subscribeFrame struct {
	Type    string           `json:"type"`
	Payload subscribePayload `json:"payload"`
}

type subscribePayload struct {
	Channels []subscribeChannel `json:"channels"`
}

type subscribeChannel struct {
	Name    string   `json:"name"`
	Symbols []string `json:"symbols"`
}

// candleFrame is one live candlestick update. Field names follow the
// REST candle schema closely enough that the shared normalizer handles
// the row after decoding.
type candleFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// SubscribeCandles implements the DataFeed interface. It lazily opens
// the websocket connection on first use, registers a handler for the
// candlestick channel at the requested interval and sends the subscribe
// frame. After an automatic reconnect the frames are re-sent.
func (f *Feed) SubscribeCandles(ctx context.Context, symbols []string, interval string, handler interfaces.CandleHandler) error {
	if len(symbols) == 0 {
		return fmt.Errorf("subscribe candles: no symbols given")
	}

	channel := "candlestick_" + normalizeInterval(interval)

	ws, err := f.ensureWS(ctx)
	if err != nil {
		return err
	}

	if err := ws.Subscribe(channel, func(message []byte) {
		f.handleCandleFrame(channel, message, handler)
	}); err != nil {
		return fmt.Errorf("registering %s handler: %w", channel, err)
	}

	frame := subscribeFrame{
		Type: "subscribe",
		Payload: subscribePayload{
			Channels: []subscribeChannel{{Name: channel, Symbols: symbols}},
		},
	}
	if err := ws.Send(frame); err != nil {
		return fmt.Errorf("sending subscribe frame for %s: %w", channel, err)
	}

	f.rememberFrame(frame)
	f.logger.Info("subscribed to live candles",
		logging.String("channel", channel),
		logging.Int("symbols", len(symbols)),
	)
	return nil
}

// handleCandleFrame decodes one live update and forwards it as a
// normalized candle. Frames that do not normalize to a full OHLC row
// are dropped silently; partial updates are common on this channel.
func (f *Feed) handleCandleFrame(channel string, message []byte, handler interfaces.CandleHandler) {
	var head candleFrame
	if err := json.Unmarshal(message, &head); err != nil {
		return
	}

	var row map[string]interface{}
	if err := json.Unmarshal(message, &row); err != nil {
		return
	}

	candles := normalizeCandles([]map[string]interface{}{row})
	if len(candles) == 0 {
		f.logger.Debug("dropping partial candle frame",
			logging.String("channel", channel),
			logging.String("symbol", head.Symbol),
		)
		return
	}
	handler(head.Symbol, candles[0])
}

// ensureWS opens the websocket connection once, reusing it for all
// subscriptions.
func (f *Feed) ensureWS(ctx context.Context) (websocket.WSConnector, error) {
	f.wsMu.Lock()
	defer f.wsMu.Unlock()

	if f.ws != nil {
		return f.ws, nil
	}

	url := f.options.WSURL
	if url == "" {
		url = defaultWSURL
	}

	ws := websocket.NewConnector(websocket.Config{
		URL:         url,
		Logger:      f.logger,
		OnReconnect: f.resendFrames,
	})
	if err := ws.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting websocket: %w", err)
	}

	f.ws = ws
	return ws, nil
}

// rememberFrame records a subscribe frame for replay after a reconnect.
func (f *Feed) rememberFrame(frame subscribeFrame) {
	f.framesMu.Lock()
	defer f.framesMu.Unlock()
	f.sentFrames = append(f.sentFrames, frame)
}

// resendFrames replays every subscribe frame on the fresh connection.
func (f *Feed) resendFrames() {
	f.framesMu.Lock()
	frames := make([]subscribeFrame, len(f.sentFrames))
	copy(frames, f.sentFrames)
	f.framesMu.Unlock()

	f.wsMu.Lock()
	ws := f.ws
	f.wsMu.Unlock()
	if ws == nil {
		return
	}

	for _, frame := range frames {
		if err := ws.Send(frame); err != nil {
			f.logger.Warn("failed to re-send subscribe frame", logging.Error(err))
		}
	}
}

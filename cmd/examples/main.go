package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/optimuslab/delta-feed/pkg/exchanges/delta"
	"github.com/optimuslab/delta-feed/pkg/exchanges/interfaces"
	"github.com/optimuslab/delta-feed/pkg/logging"
)

func main() {
	// Create logger
	logger := logging.NewLogger()
	logger.SetLevel(logging.DEBUG)

	// Create feed options
	options := interfaces.NewFeedOptions()
	options.Underlying = "ETHUSD"
	options.OptionRoot = "ETH"
	options.LogLevel = "debug"

	// Optional overrides from the environment
	if v := os.Getenv("DELTA_OPTION_SYMBOL"); v != "" {
		options.OptionSymbol = v
	}
	if v := os.Getenv("DELTA_OPTION_PRODUCT_ID"); v != "" {
		options.OptionProductID = v
	}
	if v := os.Getenv("DELTA_SNAPSHOT_PATH"); v != "" {
		options.SnapshotPath = v
	}

	// Create Delta feed
	feed := delta.NewFeed(options, delta.WithLogger(logger))
	defer feed.Close()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Discover the instrument to trade
	logger.Info("selecting option instrument")
	sel, err := feed.PickInstrument(ctx)
	if err != nil {
		logger.Error("instrument selection failed", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("instrument selected",
		logging.String("value", sel.Value),
		logging.String("symbol", sel.Symbol),
		logging.Int64("product_id", sel.ProductID),
	)

	// Fetch historical candles for the selected instrument
	logger.Info("fetching historical candles")
	candles, err := feed.GetCandles(ctx, interfaces.CandleRequest{
		Symbol:   sel.Value,
		Interval: "15m",
		Start:    time.Now().Add(-24 * time.Hour),
		End:      time.Now(),
	})
	if err != nil {
		logger.Error("failed to get candles", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("received candles", logging.Int("count", len(candles)))
	for i, c := range candles {
		if i >= 5 {
			break
		}
		logger.Info("candle",
			logging.Time("timestamp", c.Timestamp),
			logging.Float64("open", c.Open),
			logging.Float64("high", c.High),
			logging.Float64("low", c.Low),
			logging.Float64("close", c.Close),
		)
	}

	// Stream live candles until interrupted
	logger.Info("subscribing to live candles")
	err = feed.SubscribeCandles(ctx, []string{sel.Symbol}, "1m",
		func(symbol string, candle interfaces.Candle) {
			logger.Info("live candle",
				logging.String("symbol", symbol),
				logging.Time("timestamp", candle.Timestamp),
				logging.Float64("close", candle.Close),
			)
		})
	if err != nil {
		logger.Error("subscription failed", logging.Error(err))
		os.Exit(1)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
}

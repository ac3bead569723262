package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/spooky-finn/go-okx-bridge/domain"
	promclient "github.com/spooky-finn/go-okx-bridge/infrastructure/prometheus"
	"github.com/spooky-finn/go-okx-bridge/provider"
	"github.com/spooky-finn/go-okx-bridge/usecase"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %s", err)
	}

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":8080"
	}
	go promclient.StartPromClientServer(metricsAddr)

	connManager := provider.NewConnectionManager()
	if err := connManager.Init(context.Background()); err != nil {
		log.Fatalf("failed to initialize exchange connections: %s", err)
	}
	defer connManager.Close()

	marketData := usecase.NewMarketDataUseCase(connManager.StreamAPI)

	for _, raw := range strings.Split(os.Getenv("OKX_SYMBOLS"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		symbol, err := domain.NewMarketSymbolFromString(raw)
		if err != nil {
			log.Fatalf("bad symbol %q: %s", raw, err)
		}

		if _, err := marketData.GetOrderBook(symbol); err != nil && err != domain.ErrOrderBookNotFound {
			log.Fatalf("failed to subscribe %s: %s", symbol.InstID(), err)
		}
		go watchBestPrice(marketData, symbol)
	}

	go func() {
		for event := range connManager.StreamAPI.OrderUpdates() {
			log.Printf("order update: inst=%s ord=%s state=%s fill=%s@%s",
				event.InstID, event.OrderID, event.State, event.FillSize, event.FillPrice)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("shutting down")
}

// watchBestPrice waits for the book to synchronize, then logs every top of
// book change.
func watchBestPrice(marketData *usecase.MarketDataUseCase, symbol *domain.MarketSymbol) {
	var book *domain.OrderBook
	for {
		var err error
		book, err = marketData.GetOrderBook(symbol)
		if err == nil {
			break
		}
		if err != domain.ErrOrderBookNotFound {
			log.Printf("orderbook %s: %s", symbol.InstID(), err)
			return
		}
		time.Sleep(200 * time.Millisecond)
	}

	for best := range book.BestPriceUpdates() {
		log.Printf("%s best bid=%s (%s) ask=%s (%s)",
			symbol.InstID(), best.Bid, best.BidSize, best.Ask, best.AskSize)
	}
}

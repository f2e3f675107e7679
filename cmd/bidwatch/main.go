package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"gavel/internal/feed"
	"gavel/internal/model"
	"gavel/internal/observability"
)

func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("GAVEL_SERVER", "http://localhost:8080"), "gavel server base URL")
	product := flag.String("product", "", "product id to follow")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := observability.NewLogger(os.Stderr, *level, "text")

	productID, err := uuid.Parse(*product)
	if err != nil {
		log.Fatalf("invalid -product: %v", err)
	}

	client, err := feed.NewClient(logger, *server)
	if err != nil {
		log.Fatalf("cannot create feed client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan model.Event, 16)
	done := make(chan error, 1)
	go func() {
		done <- client.Stream(ctx, productID, events)
		close(events)
	}()

	for ev := range events {
		attrs := []any{"price", ev.Price.String(), "bids", ev.BidCount, "endTime", ev.EndTime}
		if ev.WinnerID != nil {
			attrs = append(attrs, "winner", ev.WinnerID.String())
		}
		if ev.Extended {
			attrs = append(attrs, "extended", true)
		}
		if ev.FinalPrice != nil {
			attrs = append(attrs, "finalPrice", ev.FinalPrice.String())
		}
		if ev.Reason != "" {
			attrs = append(attrs, "reason", ev.Reason)
		}
		logger.Info(ev.Type, attrs...)
	}

	if err := <-done; err != nil {
		log.Fatalf("stream failed: %v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

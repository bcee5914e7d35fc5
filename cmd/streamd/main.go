// Command streamd runs the payment stream ledger HTTP service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/NStream-Network/stream_layer/internal/app/runtime"
)

func main() {
	application, err := runtime.NewApplication()
	if err != nil {
		log.Fatalf("failed to initialise application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}

	if err := application.Shutdown(context.Background()); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

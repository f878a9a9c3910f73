// handler is a minimal demo Handler-Side Runtime: it registers two toy
// methods (echo, sleep) with a running server's registration endpoint and
// then waits to be dispatched.
// Run: go run ./cmd/handler --id=demo-handler --registration=127.0.0.1:7070
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schedulezero/schedulezero/internal/handlerruntime"
)

func main() {
	var (
		handlerID    = flag.String("id", "demo-handler", "handler ID to register as")
		registration = flag.String("registration", "127.0.0.1:7070", "server's registration endpoint address")
		listen       = flag.String("listen", "127.0.0.1:0", "address this handler listens on for dispatched calls")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	rt := handlerruntime.New(*handlerID, *registration, methods(), logger, handlerruntime.WithConfig(handlerruntime.Config{ListenAddr: *listen}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		log.Fatalf("handler runtime: %v", err)
	}
}

func methods() map[string]handlerruntime.MethodFunc {
	return map[string]handlerruntime.MethodFunc{
		"echo": func(params map[string]any) (any, error) {
			return map[string]any{"echoed": params}, nil
		},
		"sleep": func(params map[string]any) (any, error) {
			seconds, _ := params["seconds"].(float64)
			if seconds <= 0 {
				seconds = 1
			}
			time.Sleep(time.Duration(seconds * float64(time.Second)))
			return map[string]any{"slept_seconds": fmt.Sprintf("%.1f", seconds)}, nil
		},
	}
}

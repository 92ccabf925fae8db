// Package main provides an example of using the sockframe library.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andrei-cloud/sockframe"
	"github.com/andrei-cloud/sockframe/server"
)

// startServer starts a server that replies with the reversed request body.
func startServer(addr string, logger sockframe.Logger) (*server.Server, error) {
	handler := server.HandlerFunc(func(c *sockframe.Conn) error {
		defer c.Close()

		for {
			msg, err := c.Receive()
			if err != nil {
				return nil
			}

			out := make([]byte, len(msg.Body))
			for i := range msg.Body {
				out[len(msg.Body)-1-i] = msg.Body[i]
			}
			if err := c.Reply(out); err != nil {
				return err
			}
		}
	})

	srv, err := server.NewServer(addr, handler, &server.ServerConfig{
		Timeout:  5 * time.Second,
		MaxConns: 16,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("server setup failed: %w", err)
	}

	if err := srv.StartAndWait(time.Second); err != nil {
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return srv, nil
}

// newBroker configures and starts a broker for the given server address.
func newBroker(addr string, logger sockframe.Logger) sockframe.Broker {
	pools := sockframe.NewPoolList(5, sockframe.DialFactory(5*time.Second), []string{addr}, logger)
	broker := sockframe.NewBroker(pools, 3, logger, &sockframe.BrokerConfig{QueueSize: 1000})

	go func() {
		if err := broker.Start(); err != nil {
			log.Printf("broker failed: %v", err)
		}
	}()

	return broker
}

// sendRequests performs concurrent client requests through the broker.
func sendRequests(broker sockframe.Broker, requests []string) {
	var wg sync.WaitGroup
	for _, req := range requests {
		wg.Add(1)
		go func(payload string) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			resp, err := broker.SendContext(ctx, []byte(payload))
			if err != nil {
				log.Printf("client error sending '%s': %v", payload, err)
				return
			}

			log.Printf("client received response for '%s': %s", payload, resp)
		}(req)
	}

	wg.Wait()
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger := sockframe.NewZerologLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger())

	addr := "localhost:3000"

	srv, err := startServer(addr, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	broker := newBroker(addr, logger)

	sendRequests(broker, []string{"hello", "world", "sockframe test", "concurrent", "request"})

	broker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("error stopping server: %v", err)
	}
}

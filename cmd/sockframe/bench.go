package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andrei-cloud/sockframe"
)

func runBench(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	addrs := fs.String("addr", "127.0.0.1:9000", "comma separated server addresses")
	n := fs.Int("n", 1000, "number of requests")
	workers := fs.Int("workers", 4, "broker workers and concurrent senders")
	size := fs.Int("size", 64, "payload size in bytes")
	timeout := fs.Duration("timeout", 5*time.Second, "per-request timeout")
	verbose := fs.Bool("v", false, "log every response")
	if err := fs.Parse(args); err != nil {
		return err
	}

	runtime.GOMAXPROCS(runtime.NumCPU())
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if !*verbose {
		logger = logger.Level(zerolog.InfoLevel)
	}

	logger.Info().Msg("initializing pools")
	pools := sockframe.NewPoolList(uint32(*workers), sockframe.DialFactory(*timeout), strings.Split(*addrs, ","), sockframe.NewZerologLogger(logger))

	logger.Info().Int("workers", *workers).Msg("initializing broker")
	broker := sockframe.NewBroker(pools, *workers, sockframe.NewZerologLogger(logger), nil)

	brokerDone := make(chan error, 1)
	go func() { brokerDone <- broker.Start() }()

	payload := make([]byte, *size)
	for i := range payload {
		payload[i] = 'a' + byte(i%26)
	}

	var (
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, *n)
	)

	eg := errgroup.Group{}
	eg.SetLimit(*workers)
	start := time.Now()
	for i := 0; i < *n; i++ {
		i := i
		eg.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), *timeout)
			defer cancel()

			sent := time.Now()
			resp, err := broker.SendContext(ctx, payload)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			if int(resp.TotalLength) != len(payload) {
				return fmt.Errorf("request %d: reply length %d, want %d", i, resp.TotalLength, len(payload))
			}

			elapsed := time.Since(sent)
			logger.Debug().Int("request", i).Dur("latency", elapsed).Msg("response")
			mu.Lock()
			latencies = append(latencies, elapsed)
			mu.Unlock()
			return nil
		})
	}

	err := eg.Wait()
	total := time.Since(start)
	broker.Close()
	if berr := <-brokerDone; berr != nil {
		logger.Warn().Err(berr).Msg("broker stopped with error")
	}
	if err != nil {
		return err
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	logger.Info().
		Int("requests", len(latencies)).
		Dur("total", total).
		Float64("rps", float64(len(latencies))/total.Seconds()).
		Dur("p50", percentile(latencies, 0.50)).
		Dur("p99", percentile(latencies, 0.99)).
		Msg("finished")

	return nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jakobkummerow/weinkeller-sub000/internal/store"
	"github.com/jakobkummerow/weinkeller-sub000/internal/syncengine"
)

type latencySample struct {
	dur time.Duration
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "sync server to target")
	clients := flag.Int("clients", 50, "number of concurrent replicas")
	edits := flag.Int("edits", 20, "number of edits each replica pushes")
	interval := flag.Duration("interval", 200*time.Millisecond, "delay between edits")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := log.With().Str("server", *addr).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	latencyCh := make(chan latencySample, *clients**edits)
	var wg sync.WaitGroup

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runReplica(ctx, id, *addr, *edits, *interval, latencyCh, logger)
		}(i)
	}

	go func() {
		wg.Wait()
		close(latencyCh)
		stop()
	}()

	<-ctx.Done()
	report(latencyCh, logger)
}

// runReplica drives one in-memory replica: each tick touches a record and
// runs sync cycles until the replica is clean again, timing the drain.
func runReplica(ctx context.Context, id int, addr string, edits int, interval time.Duration, latencies chan<- latencySample, logger zerolog.Logger) {
	clientID := fmt.Sprintf("loadtest-%d", id)
	quiet := zerolog.Nop()
	st := store.New(store.Options{Logger: quiet})
	engine := syncengine.New(syncengine.Options{
		Store:     st,
		Transport: syncengine.NewHTTPTransport(addr, clientID),
		Logger:    quiet,
	})
	st.SetKicker(engine.Kick)

	vineyard := st.GetOrCreateVineyard(fmt.Sprintf("Loadtest Vineyard %d", id))
	wine := st.GetOrCreateWine(vineyard, "Stress Red")
	year := st.GetOrCreateYear(wine, 2020, 1, 9.99, "", "")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for j := 0; j < edits; j++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		year.Increment()

		start := time.Now()
		for st.IsGlobalDirty() {
			if engine.State() == syncengine.StateDisabled {
				logger.Error().Str("client", clientID).Msg("replica disabled by server identity change")
				return
			}
			delay := engine.RunCycle(ctx)
			if ctx.Err() != nil {
				return
			}
			if delay > 0 && st.IsGlobalDirty() {
				// transport trouble; honor the engine's backoff
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
		}
		latencies <- latencySample{dur: time.Since(start)}
	}
}

func report(samples <-chan latencySample, logger zerolog.Logger) {
	var count int
	var total time.Duration
	var max time.Duration
	var under100ms int

	for s := range samples {
		count++
		total += s.dur
		if s.dur > max {
			max = s.dur
		}
		if s.dur < 100*time.Millisecond {
			under100ms++
		}
	}

	if count == 0 {
		fmt.Fprintln(os.Stdout, "no samples collected")
		return
	}

	avg := time.Duration(int64(math.Round(float64(total) / float64(count))))
	pct := (float64(under100ms) / float64(count)) * 100

	fmt.Fprintf(os.Stdout, "Samples: %d\nAvg drain: %s\nMax drain: %s\n<100ms: %.2f%%\n", count, avg, max, pct)
	if pct < 95 {
		logger.Warn().Msg("less than 95% of pushes drained within 100ms")
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/linkauth/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type loadtestOptions struct {
	sessions    int
	concurrency int
	ops         int
	redisURL    string
	prefix      string
}

func loadtestCmd() *cobra.Command {
	var opts loadtestOptions

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure session lookups and refresh rotation",
		Long: `Seed sessions, then run a lookup phase (the strict-mode check behind
every cookie read) and a refresh-rotation phase concurrently, and print
latency percentiles. Uses an in-process Redis unless --redis-url is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.sessions <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
				return fmt.Errorf("sessions, concurrency and ops must be > 0")
			}
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.sessions, "sessions", 10000, "sessions to seed")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 50000, "operations per phase")
	cmd.Flags().StringVar(&opts.redisURL, "redis-url", "", "redis URL; in-process Redis when empty")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "lt", "session key prefix")
	return cmd
}

type sessionState struct {
	sid  string
	hash [32]byte
	mu   sync.Mutex
}

func runLoadtest(ctx context.Context, out io.Writer, opts loadtestOptions) error {
	var rdb *redis.Client
	if opts.redisURL == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		fmt.Fprintf(out, "using miniredis at %s\n", mr.Addr())
	} else {
		ropts, err := redis.ParseURL(opts.redisURL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(ropts)
		fmt.Fprintf(out, "using redis at %s\n", ropts.Addr)
	}
	defer rdb.Close()

	store := session.NewStore(rdb, opts.prefix)

	states := make([]sessionState, opts.sessions)
	start := time.Now()
	for i := range states {
		sid := fmt.Sprintf("sid-%d", i)
		h := hashFor(i)
		states[i].sid = sid
		states[i].hash = h
		if err := store.Save(ctx, buildSession(sid, i, h), 24*time.Hour); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	fmt.Fprintf(out, "seeded %d sessions in %s\n", opts.sessions, time.Since(start).Round(time.Millisecond))

	lookup := runPhase(opts, 7919, func(r *rand.Rand, i int) error {
		_, err := store.Get(ctx, states[r.Intn(len(states))].sid)
		return err
	})
	refresh := runPhase(opts, 6151, func(r *rand.Rand, i int) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()

		next := nextHash(state.hash, i+1)
		if _, err := store.RotateRefreshHash(ctx, state.sid, state.hash, next); err != nil {
			return err
		}
		state.hash = next
		return nil
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "lookup", lookup)
	printStats(out, "refresh", refresh)
	return ctx.Err()
}

func runPhase(opts loadtestOptions, seed int64, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, opts.ops)
	)

	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= opts.ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func buildSession(sid string, i int, refreshHash [32]byte) *session.Session {
	now := time.Now()
	return &session.Session{
		SessionID:   sid,
		UserID:      fmt.Sprintf("user-%d", i%1000),
		Email:       fmt.Sprintf("user%d@example.com", i%1000),
		RefreshHash: refreshHash,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(24 * time.Hour).Unix(),
	}
}

func hashFor(i int) [32]byte {
	var out [32]byte
	for j := range out {
		out[j] = byte((i + j*17 + 11) % 251)
	}
	return out
}

func nextHash(current [32]byte, salt int) [32]byte {
	out := current
	for i := range out {
		out[i] ^= byte((salt + i*13) & 0xFF)
	}
	return out
}

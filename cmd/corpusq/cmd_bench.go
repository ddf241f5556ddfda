package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/service"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/proto"
)

var defaultBenchQueries = []string{
	`"the"`,
	`"rose"`,
	`"the" | "a"`,
	`"red" & "rose"`,
	`"rose", "garden", 5`,
	`wild="ro%"`,
	`reg="[Rr]o.e"`,
	`freq=2-4`,
	`simil="rose" 80%`,
	`tag="%"`,
	`"rose" where tag="%"`,
}

var (
	benchURL         string
	benchRPC         bool
	benchConcurrency int
	benchDuration    time.Duration
	benchQueriesFile string

	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Load-test a running query service",
		Long: `bench replays queries against a query service from concurrent workers
for a fixed duration and reports throughput, latency percentiles, outcomes
and cache hits.`,
		Args: cobra.NoArgs,
		RunE: runBench,
	}
)

func init() {
	benchCmd.Flags().StringVar(&benchURL, "url", "", "base URL of the HTTP API (defaults to localhost and server.port)")
	benchCmd.Flags().BoolVar(&benchRPC, "rpc", false, "query over RPC at rpc.addr instead of HTTP")
	benchCmd.Flags().IntVar(&benchConcurrency, "concurrency", 10, "number of concurrent workers")
	benchCmd.Flags().DurationVar(&benchDuration, "duration", 30*time.Second, "test duration")
	benchCmd.Flags().StringVar(&benchQueriesFile, "queries", "", "file with one query per line")
}

// benchStats collects per-request outcomes from all workers.
type benchStats struct {
	mu        sync.Mutex
	latencies []time.Duration
	outcomes  map[string]int
	cacheHits int
	total     int
}

func newBenchStats() *benchStats {
	return &benchStats{outcomes: make(map[string]int)}
}

func (s *benchStats) record(d time.Duration, outcome string, cacheHit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.outcomes[outcome]++
	if outcome == "200" || outcome == "ok" {
		s.latencies = append(s.latencies, d)
	}
	if cacheHit {
		s.cacheHits++
	}
}

// querier sends one query and reports its outcome label.
type querier func(ctx context.Context, query string) (outcome string, cacheHit bool, err error)

func runBench(cmd *cobra.Command, _ []string) error {
	queries := defaultBenchQueries
	if benchQueriesFile != "" {
		loaded, err := readQueries(benchQueriesFile)
		if err != nil {
			return err
		}
		queries = loaded
	}
	if benchConcurrency <= 0 {
		return fmt.Errorf("--concurrency must be positive")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), benchDuration)
	defer cancel()

	var send querier
	target := benchURL
	if benchRPC {
		target = cfg.RPC.Addr
		client, err := service.Dial(ctx, target)
		if err != nil {
			return err
		}
		defer client.Close()
		send = rpcQuerier(client)
	} else {
		if target == "" {
			target = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}
		send = httpQuerier(&http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        benchConcurrency * 2,
				MaxIdleConnsPerHost: benchConcurrency * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}, target)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "target %s, %d workers, %s, %d queries\n", target, benchConcurrency, benchDuration, len(queries))

	stats := newBenchStats()
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < benchConcurrency; w++ {
		g.Go(func() error {
			for i := w; gctx.Err() == nil; i++ {
				t0 := time.Now()
				outcome, hit, err := send(gctx, queries[i%len(queries)])
				if gctx.Err() != nil {
					return nil
				}
				if errors.Is(err, grpc.ErrBroken) {
					return err
				}
				if err != nil {
					outcome = "transport error"
				}
				stats.record(time.Since(t0), outcome, hit)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(out, "stopped early: %v\n", err)
	}
	printBenchReport(out, stats, time.Since(start))
	if stats.total == 0 {
		return fmt.Errorf("no requests completed; is the service running at %s?", target)
	}
	return nil
}

func httpQuerier(client *http.Client, base string) querier {
	return func(ctx context.Context, query string) (string, bool, error) {
		u := fmt.Sprintf("%s/api/v1/query?q=%s&limit=10", strings.TrimRight(base, "/"), url.QueryEscape(query))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return "", false, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", false, err
		}
		defer resp.Body.Close()
		var body struct {
			CacheHit bool `json:"cache_hit"`
		}
		if resp.StatusCode == http.StatusOK {
			_ = json.NewDecoder(resp.Body).Decode(&body)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Sprint(resp.StatusCode), body.CacheHit, nil
	}
}

func rpcQuerier(client *service.Client) querier {
	return func(ctx context.Context, query string) (string, bool, error) {
		resp, err := client.Run(ctx, proto.QueryRequest{Query: query, Limit: 10})
		if err != nil {
			var rpcErr *grpc.Error
			if errors.As(err, &rpcErr) {
				return fmt.Sprint(rpcErr.Code), false, nil
			}
			return "", false, err
		}
		return "ok", resp.CacheHit, nil
	}
}

func readQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var queries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		queries = append(queries, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("%s contains no queries", path)
	}
	return queries, nil
}

func printBenchReport(w io.Writer, s *benchStats, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "requests\t%d\n", s.total)
	if elapsed > 0 {
		fmt.Fprintf(tw, "requests/sec\t%.2f\n", float64(s.total)/elapsed.Seconds())
	}
	if s.total > 0 {
		fmt.Fprintf(tw, "cache hits\t%d (%.1f%%)\n", s.cacheHits, float64(s.cacheHits)/float64(s.total)*100)
	}

	latencies := slices.Clone(s.latencies)
	slices.Sort(latencies)
	if len(latencies) > 0 {
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Fprintf(tw, "min\t%s\n", latencies[0])
		fmt.Fprintf(tw, "avg\t%s\n", sum/time.Duration(len(latencies)))
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Fprintf(tw, "p%.0f\t%s\n", p, percentile(latencies, p))
		}
		fmt.Fprintf(tw, "max\t%s\n", latencies[len(latencies)-1])
	}

	outcomes := make([]string, 0, len(s.outcomes))
	for k := range s.outcomes {
		outcomes = append(outcomes, k)
	}
	slices.Sort(outcomes)
	for _, k := range outcomes {
		fmt.Fprintf(tw, "outcome %s\t%d\n", k, s.outcomes[k])
	}
	tw.Flush()
}

// percentile picks the nearest-rank percentile of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}

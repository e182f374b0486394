package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// pageResult is what a page job reports
type pageResult struct {
	url string
	err error
}

func (r *pageResult) GetError() error {
	return r.err
}

// pageJob pretends to fetch a page. A hold keeps the worker busy until the
// hold elapses or the pool is cancelled.
type pageJob struct {
	url  string
	hold time.Duration
	fail bool
	seen *atomic.Int32
}

func (j *pageJob) Execute(ctx context.Context) Result {
	if j.seen != nil {
		j.seen.Add(1)
	}
	if j.hold > 0 {
		timer := time.NewTimer(j.hold)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return &pageResult{url: j.url, err: ctx.Err()}
		}
	}
	if j.fail {
		return &pageResult{url: j.url, err: fmt.Errorf("fetch %s: unexpected status 503", j.url)}
	}
	return &pageResult{url: j.url}
}

// gaugeJob records how many jobs run at once
type gaugeJob struct {
	running *atomic.Int32
	peak    *atomic.Int32
	hold    time.Duration
}

func (j *gaugeJob) Execute(ctx context.Context) Result {
	n := j.running.Add(1)
	for {
		p := j.peak.Load()
		if n <= p || j.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(j.hold)
	j.running.Add(-1)
	return &pageResult{}
}

func waitOrFail(t *testing.T, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("%s blocked", what)
	}
}

func TestNewPool_WorkerFloor(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{in: 4, want: 4},
		{in: 0, want: 1},
		{in: -3, want: 1},
	}
	for _, tt := range tests {
		if got := NewPool(context.Background(), tt.in).workers; got != tt.want {
			t.Errorf("NewPool(%d) workers = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPool_ReportsEveryPage(t *testing.T) {
	pool := NewPool(context.Background(), 3)
	pool.Start()

	var seen atomic.Int32
	for i := 0; i < 25; i++ {
		pool.Submit(&pageJob{
			url:  fmt.Sprintf("https://news.example/%d", i),
			fail: i%5 == 0,
			seen: &seen,
		})
	}

	results := pool.Wait()
	if len(results) != 25 || seen.Load() != 25 {
		t.Fatalf("Expected 25 results and executions, got %d and %d", len(results), seen.Load())
	}

	urls := make(map[string]bool)
	failed := 0
	for _, r := range results {
		pr := r.(*pageResult)
		urls[pr.url] = true
		if pr.GetError() != nil {
			failed++
		}
	}
	if len(urls) != 25 {
		t.Errorf("Expected 25 distinct pages, got %d", len(urls))
	}
	if failed != 5 {
		t.Errorf("Expected 5 failed fetches, got %d", failed)
	}
}

func TestPool_BoundedConcurrency(t *testing.T) {
	const workers = 3
	pool := NewPool(context.Background(), workers)
	pool.Start()

	var running, peak atomic.Int32
	for i := 0; i < 30; i++ {
		pool.Submit(&gaugeJob{running: &running, peak: &peak, hold: 5 * time.Millisecond})
	}
	pool.Wait()

	if p := peak.Load(); p > workers {
		t.Errorf("Peak concurrency %d exceeds %d workers", p, workers)
	}
	if running.Load() != 0 {
		t.Errorf("Expected no job running after Wait, got %d", running.Load())
	}
}

func TestPool_QueueDeeperThanBuffers(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()

	for i := 0; i < 200; i++ {
		if !pool.Submit(&pageJob{url: "https://a.example"}) {
			t.Fatalf("Submit %d rejected on a live pool", i)
		}
	}
	if got := len(pool.Wait()); got != 200 {
		t.Errorf("Expected 200 results, got %d", got)
	}
}

func TestPool_ShutdownStopsInFlightFetch(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()

	var seen atomic.Int32
	pool.Submit(&pageJob{url: "https://slow.example", hold: time.Minute, seen: &seen})
	for seen.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	waitOrFail(t, "Shutdown", pool.Shutdown)

	var results []Result
	waitOrFail(t, "Wait after Shutdown", func() { results = pool.Wait() })
	for _, r := range results {
		if !errors.Is(r.GetError(), context.Canceled) {
			t.Errorf("Expected a cancelled fetch, got %v", r.GetError())
		}
	}
}

func TestPool_SubmitRejectedOnceCancelled(t *testing.T) {
	tests := []struct {
		name   string
		cancel func(p *Pool, parent context.CancelFunc)
	}{
		{"shutdown", func(p *Pool, _ context.CancelFunc) { p.Shutdown() }},
		{"parent context", func(_ *Pool, parent context.CancelFunc) { parent() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			pool := NewPool(ctx, 1)
			pool.Start()
			tt.cancel(pool, cancel)

			waitOrFail(t, "Submit", func() {
				if pool.Submit(&pageJob{url: "https://late.example"}) {
					t.Error("Submit accepted a job on a cancelled pool")
				}
			})
			waitOrFail(t, "Wait", func() { _ = pool.Wait() })
		})
	}
}

func TestResultCollector_ConcurrentAdds(t *testing.T) {
	c := NewResultCollector()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c.Add(&pageResult{})
			}
		}()
	}
	wg.Wait()

	got := c.Results()
	if len(got) != 400 {
		t.Fatalf("Expected 400 results, got %d", len(got))
	}

	got[0] = nil
	if c.Results()[0] == nil {
		t.Error("Results must return a copy")
	}
}

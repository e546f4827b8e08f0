package mediacache

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"
)

const (
	// DefaultPreloadBatchSize is how many queued URLs one pump iteration
	// dispatches concurrently.
	DefaultPreloadBatchSize = 6
	// defaultPumpDelay spaces pump iterations so a long queue does not
	// monopolize the network.
	defaultPumpDelay = 150 * time.Millisecond
	// preloadFetchBudget bounds a single warm-up fetch end to end.
	preloadFetchBudget = 30 * time.Second
)

// preloadItem is one queued warm-up request. seq breaks priority ties in
// insertion order.
type preloadItem struct {
	url      string
	priority int
	seq      uint64
}

// preloadHeap orders items by priority (lower first), then FIFO.
type preloadHeap []*preloadItem

func (h preloadHeap) Len() int { return len(h) }
func (h preloadHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h preloadHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *preloadHeap) Push(x any) { *h = append(*h, x.(*preloadItem)) }
func (h *preloadHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// PreloaderOptions configures a Preloader.
type PreloaderOptions struct {
	// BatchSize overrides DefaultPreloadBatchSize.
	BatchSize int
	// PumpDelay overrides the spacing between pump iterations.
	PumpDelay time.Duration
	// Cached, when non-nil, lets the queue skip URLs that are already warm.
	Cached func(url string) bool
}

// Preloader warms images into cache ahead of display. Enqueued URLs wait in
// a stable priority queue; a single pump drains them in fixed-size batches,
// fetching each batch concurrently through the fetcher's own retry and cache
// logic. Enqueue is idempotent: already-queued, already-cached and
// known-failed URLs are skipped. A URL whose warm-up fetch fails is marked
// known-failed and never re-enqueued.
type Preloader struct {
	fetcher ImageFetcher
	cached  func(string) bool

	batchSize int
	pumpDelay time.Duration

	mu      sync.Mutex
	queue   preloadHeap
	queued  map[string]struct{}
	failed  map[string]struct{}
	pumping bool
	seq     uint64

	wg sync.WaitGroup
}

// NewPreloader creates a Preloader on top of the given fetcher.
func NewPreloader(fetcher ImageFetcher, opts PreloaderOptions) *Preloader {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultPreloadBatchSize
	}
	delay := opts.PumpDelay
	if delay <= 0 {
		delay = defaultPumpDelay
	}
	return &Preloader{
		fetcher:   fetcher,
		cached:    opts.Cached,
		batchSize: batch,
		pumpDelay: delay,
		queued:    make(map[string]struct{}),
		failed:    make(map[string]struct{}),
	}
}

// Enqueue adds url at the given priority (lower dequeues first) and starts
// the pump if idle.
func (p *Preloader) Enqueue(url string, priority int) {
	p.EnqueueMany([]string{url}, priority)
}

// EnqueueMany adds a batch of URLs at one priority, preserving slice order
// for FIFO tie-breaking.
func (p *Preloader) EnqueueMany(urls []string, priority int) {
	p.mu.Lock()
	added := false
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := p.queued[u]; ok {
			continue
		}
		if _, ok := p.failed[u]; ok {
			continue
		}
		if p.cached != nil && p.cached(u) {
			continue
		}
		p.seq++
		heap.Push(&p.queue, &preloadItem{url: u, priority: priority, seq: p.seq})
		p.queued[u] = struct{}{}
		added = true
	}
	start := added && !p.pumping
	if start {
		p.pumping = true
		p.wg.Add(1)
	}
	p.mu.Unlock()

	if start {
		go p.pump()
	}
}

// Pending reports how many URLs are waiting for dispatch.
func (p *Preloader) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// Failed reports whether url is marked known-failed.
func (p *Preloader) Failed(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.failed[url]
	return ok
}

// Wait blocks until the pump goes idle. Intended for shutdown and tests.
func (p *Preloader) Wait() {
	p.wg.Wait()
}

// pump drains the queue batch by batch. Only one pump runs at a time; the
// pumping flag is the mutual-exclusion guard.
func (p *Preloader) pump() {
	defer p.wg.Done()
	for {
		batch := p.takeBatch()
		if len(batch) == 0 {
			p.mu.Lock()
			// Re-check under the lock: an Enqueue may have raced the drain.
			if p.queue.Len() == 0 {
				p.pumping = false
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			continue
		}

		var wg sync.WaitGroup
		for _, item := range batch {
			wg.Add(1)
			go func(item *preloadItem) {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), preloadFetchBudget)
				defer cancel()
				if _, err := p.fetcher.Fetch(ctx, item.url); err != nil {
					log.Printf("WARN: preload of '%s' failed, marking known-failed: %v", item.url, err)
					p.mu.Lock()
					p.failed[item.url] = struct{}{}
					p.mu.Unlock()
				}
			}(item)
		}
		wg.Wait()

		p.mu.Lock()
		if p.queue.Len() == 0 {
			p.pumping = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		time.Sleep(p.pumpDelay)
	}
}

// takeBatch pops up to batchSize items in priority-then-FIFO order and
// releases their queued markers so the URLs can be re-enqueued later if they
// fall out of cache.
func (p *Preloader) takeBatch() []*preloadItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.batchSize
	if n > p.queue.Len() {
		n = p.queue.Len()
	}
	batch := make([]*preloadItem, 0, n)
	for i := 0; i < n; i++ {
		item := heap.Pop(&p.queue).(*preloadItem)
		delete(p.queued, item.url)
		batch = append(batch, item)
	}
	return batch
}

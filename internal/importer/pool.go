package importer

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("import pool is closed")

type job struct {
	req   Request
	reply chan<- Response
}

// Pool runs Parse on a fixed number of goroutines. Requests and responses
// are exchanged over channels; workers share nothing with callers.
type Pool struct {
	jobs   chan job
	logger *log.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts n workers (at least one).
func NewPool(n int, logger *log.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[import] ", log.LstdFlags)
	}
	p := &Pool{
		jobs:   make(chan job),
		logger: logger,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		start := time.Now()
		resp := Parse(j.req)
		if resp.OK() {
			p.logger.Printf("worker %d parsed %d items (%s) in %v", id, len(resp.Data), j.req.Format, time.Since(start))
		} else {
			p.logger.Printf("worker %d rejected %s import: %s", id, j.req.Format, resp.Error)
		}
		j.reply <- resp
	}
}

// Submit hands req to a free worker and waits for its response.
func (p *Pool) Submit(ctx context.Context, req Request) (Response, error) {
	reply := make(chan Response, 1)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return Response{}, ErrPoolClosed
	}
	select {
	case p.jobs <- job{req: req, reply: reply}:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Close stops the workers after in-flight requests finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

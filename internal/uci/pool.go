package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
)

type PoolConfig struct {
	BinaryPath     string
	PerKeyCapacity int
}

// Pool hands out sessions grouped by option set. Engines that were started
// with different options never mix, so a strength-limited opponent process
// is never reused for full-strength analysis.
type Pool struct {
	binaryPath     string
	perKeyCapacity int

	mu       sync.Mutex
	buckets  map[string]*bucket
	borrowed map[*Session]*bucket
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("engine binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}

	capacity := cfg.PerKeyCapacity
	if capacity <= 0 {
		capacity = defaultPerKeyCapacity()
	}

	return &Pool{
		binaryPath:     cfg.BinaryPath,
		perKeyCapacity: capacity,
		buckets:        make(map[string]*bucket),
		borrowed:       make(map[*Session]*bucket),
	}, nil
}

func (p *Pool) Acquire(ctx context.Context, opt Options) (*Session, error) {
	b := p.bucketFor(opt)

	for {
		select {
		case session := <-b.idle:
			if session == nil {
				continue
			}
			if err := session.EnsureReady(ctx); err != nil {
				p.drop(session)
				continue
			}
			p.lend(session, b)
			return session, nil
		default:
		}

		session, err := b.spawn(ctx)
		if err == nil {
			p.lend(session, b)
			return session, nil
		}
		if !errors.Is(err, errBucketFull) {
			return nil, err
		}

		select {
		case session := <-b.idle:
			if session == nil {
				continue
			}
			if err := session.EnsureReady(ctx); err != nil {
				p.drop(session)
				continue
			}
			p.lend(session, b)
			return session, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a session to its bucket. A non-nil err means the caller
// saw a protocol or IO failure; the subprocess is killed instead of reused.
func (p *Pool) Release(session *Session, err error) {
	if session == nil {
		return
	}

	p.mu.Lock()
	b, ok := p.borrowed[session]
	if !ok {
		p.mu.Unlock()
		_ = session.Close()
		return
	}

	if err != nil {
		delete(p.borrowed, session)
		p.mu.Unlock()
		b.discard(session)
		return
	}
	p.mu.Unlock()

	if !b.park(session) {
		p.mu.Lock()
		delete(p.borrowed, session)
		p.mu.Unlock()
		b.discard(session)
	}
}

func (p *Pool) Close() error {
	p.mu.Lock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.borrowed = make(map[*Session]*bucket)
	p.mu.Unlock()

	var errs []error
	for _, b := range buckets {
		for drained := false; !drained; {
			select {
			case session := <-b.idle:
				if session == nil {
					continue
				}
				if err := session.Close(); err != nil {
					errs = append(errs, err)
				}
				b.decrement()
			default:
				drained = true
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (p *Pool) lend(session *Session, b *bucket) {
	p.mu.Lock()
	p.borrowed[session] = b
	p.mu.Unlock()
}

func (p *Pool) drop(session *Session) {
	if session == nil {
		return
	}
	p.mu.Lock()
	b, ok := p.borrowed[session]
	if ok {
		delete(p.borrowed, session)
	}
	p.mu.Unlock()
	if ok {
		b.discard(session)
		return
	}
	_ = session.Close()
}

func (p *Pool) bucketFor(opt Options) *bucket {
	key := optionsKey(opt)
	p.mu.Lock()
	b, ok := p.buckets[key]
	if !ok {
		b = newBucket(p.binaryPath, opt, p.perKeyCapacity)
		p.buckets[key] = b
	}
	p.mu.Unlock()
	return b
}

type bucket struct {
	opt        Options
	capacity   int
	binaryPath string

	mu    sync.Mutex
	total int
	idle  chan *Session
}

var errBucketFull = errors.New("session bucket at capacity")

func newBucket(binaryPath string, opt Options, capacity int) *bucket {
	if capacity <= 0 {
		capacity = 1
	}
	return &bucket{
		opt:        opt,
		capacity:   capacity,
		binaryPath: binaryPath,
		idle:       make(chan *Session, capacity),
	}
}

func (b *bucket) spawn(ctx context.Context) (*Session, error) {
	b.mu.Lock()
	if b.total >= b.capacity {
		b.mu.Unlock()
		return nil, errBucketFull
	}
	b.total++
	b.mu.Unlock()

	session, err := NewSession(ctx, b.binaryPath, b.opt)
	if err != nil {
		b.decrement()
		return nil, err
	}
	return session, nil
}

func (b *bucket) park(session *Session) bool {
	select {
	case b.idle <- session:
		return true
	default:
		return false
	}
}

func (b *bucket) discard(session *Session) {
	if session != nil {
		_ = session.Close()
	}
	b.decrement()
}

func (b *bucket) decrement() {
	b.mu.Lock()
	if b.total > 0 {
		b.total--
	}
	b.mu.Unlock()
}

func optionsKey(opt Options) string {
	return fmt.Sprintf("thr=%d|hash=%d|multipv=%d|skill=%d",
		opt.Threads,
		opt.HashMB,
		opt.MultiPV,
		opt.SkillLevel)
}

func defaultPerKeyCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}

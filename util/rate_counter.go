package util

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// A RateCounter keeps a byte stream under a given rate. Every interval the
// pool is refilled with rate*interval credits. Reads remove credits from the
// pool. While the pool is negative, readers wait.
type RateCounter struct {
	c       chan struct{} // receives while credits are positive
	stop    chan struct{} // close to signal adder goroutine to exit
	once    sync.Once
	m       sync.Mutex // protects below
	credits int64      // current credit balance
}

// DefaultRateInterval is how often a RateCounter from NewRateCounter is
// refilled. Segment uploads are long running, so a coarse interval is fine.
const DefaultRateInterval = 1 * time.Second

// NewRateCounter returns a counter allowing about rate bytes per second,
// refilled every DefaultRateInterval.
func NewRateCounter(rate float64) *RateCounter {
	return NewRateCounterInterval(rate, DefaultRateInterval)
}

// NewRateCounterInterval is NewRateCounter with an explicit refill interval.
func NewRateCounterInterval(rate float64, interval time.Duration) *RateCounter {
	amount := int64(rate * interval.Seconds())
	if amount < 1 {
		amount = 1
	}
	r := &RateCounter{
		c:       make(chan struct{}),
		stop:    make(chan struct{}),
		credits: amount,
	}
	go r.adder(amount, interval)
	return r
}

// Use some number of units. It is okay if it takes this counter negative.
func (r *RateCounter) Use(count int64) {
	r.m.Lock()
	r.credits -= count
	r.m.Unlock()
}

// OK returns a channel to wait on. It will receive an empty struct when it is OK
// to resume reading. The channel will be closed if the RateCounter is Stopped.
func (r *RateCounter) OK() <-chan struct{} {
	return r.c
}

// Stop the background goroutine refilling the RateCounter. It is safe to call
// more than once.
func (r *RateCounter) Stop() {
	r.once.Do(func() { close(r.stop) })
}

func (r *RateCounter) adder(amount int64, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		var signal chan struct{}
		r.m.Lock()
		if r.credits > 0 {
			signal = r.c
		}
		r.m.Unlock()
		select {
		case <-tick.C:
			r.m.Lock()
			r.credits += amount
			// don't let an idle counter bank an unbounded burst
			if r.credits > amount {
				r.credits = amount
			}
			r.m.Unlock()
		case signal <- struct{}{}:
		case <-r.stop:
			close(r.c)
			return
		}
	}
}

// Wrap takes an io.Reader and returns a new one where reads are limited by
// this RateCounter. If the RateCounter was stopped, the returned reader will
// return ErrStopped.
func (r *RateCounter) Wrap(reader io.Reader) io.Reader {
	return rateReader{reader: reader, rate: r}
}

// ErrStopped means a read failed because the governing rate counter was stopped.
var ErrStopped = errors.New("RateCounter stopped")

type rateReader struct {
	reader io.Reader
	rate   *RateCounter
}

func (r rateReader) Read(p []byte) (int, error) {
	_, ok := <-r.rate.OK()
	if !ok {
		return 0, ErrStopped
	}
	n, err := r.reader.Read(p)
	r.rate.Use(int64(n))
	return n, err
}

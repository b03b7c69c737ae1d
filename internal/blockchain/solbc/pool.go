// internal/blockchain/solbc/pool.go
package solbc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrNoActiveNodes is returned when every endpoint's breaker is open.
var ErrNoActiveNodes = errors.New("no active RPC nodes")

const (
	nodeTripAfter   = 3
	nodeOpenTimeout = 30 * time.Second
)

type node struct {
	url     string
	rpc     *rpc.Client
	breaker *gobreaker.CircuitBreaker

	successes atomic.Uint64
	failures  atomic.Uint64
	latencyNs atomic.Int64
}

// NodeStats is a point-in-time view of one endpoint.
type NodeStats struct {
	URL        string
	State      string
	Successes  uint64
	Failures   uint64
	AvgLatency time.Duration
}

// Pool spreads calls over several RPC endpoints. A node whose breaker is
// open is skipped until the breaker half-opens.
type Pool struct {
	nodes  []*node
	next   atomic.Uint32
	logger *zap.Logger
}

func NewPool(urls []string, logger *zap.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: empty endpoint list", ErrNoActiveNodes)
	}
	logger = logger.Named("rpc-pool")
	p := &Pool{logger: logger}
	for _, url := range urls {
		p.nodes = append(p.nodes, &node{
			url: url,
			rpc: rpc.New(url),
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    url,
				Timeout: nodeOpenTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= nodeTripAfter
				},
				IsSuccessful: nodeHealthy,
				OnStateChange: func(name string, from, to gobreaker.State) {
					logger.Warn("RPC node state changed",
						zap.String("node", name),
						zap.String("from", from.String()),
						zap.String("to", to.String()))
				},
			}),
		})
	}
	return p, nil
}

// nodeHealthy separates answers about the data from failures of the node.
func nodeHealthy(err error) bool {
	return err == nil ||
		IsAccountNotFoundError(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Do runs op against the next healthy node, moving on to the others when a
// node fails. Data errors such as a missing account are returned at once.
func (p *Pool) Do(ctx context.Context, op func(*rpc.Client) error) error {
	start := int(p.next.Add(1)-1) % len(p.nodes)
	var lastErr error
	for i := 0; i < len(p.nodes); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := p.nodes[(start+i)%len(p.nodes)]

		began := time.Now()
		_, err := n.breaker.Execute(func() (interface{}, error) {
			return nil, op(n.rpc)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			continue
		}
		n.observe(err, time.Since(began))
		if nodeHealthy(err) {
			return err
		}
		lastErr = err
		p.logger.Debug("RPC call failed, trying next node",
			zap.String("node", n.url),
			zap.Error(err))
	}
	if lastErr == nil {
		return ErrNoActiveNodes
	}
	return lastErr
}

func (n *node) observe(err error, latency time.Duration) {
	if nodeHealthy(err) {
		n.successes.Add(1)
	} else {
		n.failures.Add(1)
	}
	// moving average
	prev := n.latencyNs.Load()
	if prev == 0 {
		n.latencyNs.Store(int64(latency))
		return
	}
	n.latencyNs.Store((prev + int64(latency)) / 2)
}

// Stats reports every endpoint in configuration order.
func (p *Pool) Stats() []NodeStats {
	out := make([]NodeStats, 0, len(p.nodes))
	for _, n := range p.nodes {
		out = append(out, NodeStats{
			URL:        n.url,
			State:      n.breaker.State().String(),
			Successes:  n.successes.Load(),
			Failures:   n.failures.Load(),
			AvgLatency: time.Duration(n.latencyNs.Load()),
		})
	}
	return out
}

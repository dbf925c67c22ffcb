package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/metrics"
)

const pullBufferSize = 1500

type PullerState int32

const (
	PullerIdle PullerState = iota
	PullerPolling
	PullerStopped
)

func (s PullerState) String() string {
	switch s {
	case PullerPolling:
		return "polling"
	case PullerStopped:
		return "stopped"
	}
	return "idle"
}

type pullSource struct {
	kind MediaKind
	conn *net.UDPConn
}

// Puller receives the upstream feeds of one pull-fed stream, one bound UDP
// socket per media kind.
type Puller struct {
	stream  string
	sources []pullSource
	timeout time.Duration
	state   atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OpenPuller binds a socket on host for every non-zero port, indexed by
// MediaKind. Kinds that fail to bind are reported in errs and skipped; the
// Puller is nil only when nothing could be bound.
func OpenPuller(stream, host string, ports [3]int, timeout time.Duration) (*Puller, []error) {
	p := &Puller{
		stream:  stream,
		timeout: timeout,
	}
	var errs []error
	for _, kind := range mediaKinds {
		port := ports[kind]
		if port <= 0 {
			continue
		}
		conn, err := bindPullSocket(host, port)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		p.sources = append(p.sources, pullSource{kind: kind, conn: conn})
		slog.Debug("bound puller socket", "stream", stream, "media", kind, "addr", conn.LocalAddr())
	}
	if len(p.sources) == 0 {
		return nil, errs
	}
	return p, errs
}

func bindPullSocket(host string, port int) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", addr)
}

func (p *Puller) State() PullerState {
	return PullerState(p.state.Load())
}

func (p *Puller) Kinds() []MediaKind {
	kinds := make([]MediaKind, 0, len(p.sources))
	for _, src := range p.sources {
		kinds = append(kinds, src.kind)
	}
	return kinds
}

func (p *Puller) Has(kind MediaKind) bool {
	for _, src := range p.sources {
		if src.kind == kind {
			return true
		}
	}
	return false
}

// LocalAddr is the bound address for kind, nil if that kind is not pulled.
func (p *Puller) LocalAddr(kind MediaKind) net.Addr {
	for _, src := range p.sources {
		if src.kind == kind {
			return src.conn.LocalAddr()
		}
	}
	return nil
}

// Start begins polling. deliver is called from the read loops with a buffer
// that is reused after it returns.
func (p *Puller) Start(ctx context.Context, deliver func(Packet)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.CompareAndSwap(int32(PullerIdle), int32(PullerPolling)) {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	for _, src := range p.sources {
		p.wg.Add(1)
		go p.readLoop(ctx, src, deliver)
	}
	go func() {
		p.wg.Wait()
		p.state.Store(int32(PullerStopped))
	}()
	slog.Info("puller started", "stream", p.stream, "sources", len(p.sources))
}

// Stop cancels polling. Loops exit within one read timeout.
func (p *Puller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	p.state.CompareAndSwap(int32(PullerIdle), int32(PullerStopped))
}

// Close stops polling, closes every socket and waits for the loops.
func (p *Puller) Close() error {
	p.Stop()
	var errs []error
	for _, src := range p.sources {
		if err := src.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	p.wg.Wait()
	return errors.Join(errs...)
}

func (p *Puller) readLoop(ctx context.Context, src pullSource, deliver func(Packet)) {
	defer p.wg.Done()

	buf := make([]byte, pullBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := src.conn.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("failed to set puller read deadline", "stream", p.stream, "media", src.kind, "error", err)
		}
		n, _, err := src.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("puller read failed", "stream", p.stream, "media", src.kind, "error", err)
			continue
		}
		if n == 0 || ctx.Err() != nil {
			continue
		}
		metrics.PulledPacketsTotal.WithLabelValues(src.kind.String()).Inc()
		deliver(Packet{Kind: src.kind, Data: buf[:n]})
	}
}

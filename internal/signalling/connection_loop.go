package signalling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/api"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/metrics"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/sockets"
)

const (
	connectionPingInterval = 30 * time.Second
	messageQueueSize       = 16
	messageSendTimeout     = 5 * time.Second
	frameBufferSize        = 1501
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendTimeout      = errors.New("timed out queueing message")
	ErrQueueFull        = errors.New("message queue full")
)

var framePool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, frameBufferSize)
		return &b
	},
}

// ConnectionLoop owns the writes to one socket. Replies wait for room in the
// message queue. Relay events and media frames are dropped when their queue
// is full.
type ConnectionLoop struct {
	socket     sockets.Socket
	id         sockets.SocketID
	messages   chan any
	media      chan *[]byte
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	pingTicker *time.Ticker
	stopOnce   sync.Once
}

func NewConnectionLoop(socket sockets.Socket, id sockets.SocketID, mediaQueueSize int) *ConnectionLoop {
	if mediaQueueSize <= 0 {
		mediaQueueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionLoop{
		socket:     socket,
		id:         id,
		messages:   make(chan any, messageQueueSize),
		media:      make(chan *[]byte, mediaQueueSize),
		ctx:        ctx,
		cancel:     cancel,
		pingTicker: time.NewTicker(connectionPingInterval),
	}
}

func (l *ConnectionLoop) Start() {
	l.wg.Add(2)
	go l.writerLoop()
	go l.pingLoop()
}

func (l *ConnectionLoop) Stop() {
	l.stopOnce.Do(func() {
		l.cancel()
		l.pingTicker.Stop()
		l.wg.Wait()
		for {
			select {
			case bp := <-l.media:
				framePool.Put(bp)
			default:
				return
			}
		}
	})
}

// Done is closed once the loop stops writing, either from Stop or after a
// failed write.
func (l *ConnectionLoop) Done() <-chan struct{} {
	return l.ctx.Done()
}

func (l *ConnectionLoop) SendMessage(msg any) error {
	timer := time.NewTimer(messageSendTimeout)
	defer timer.Stop()

	select {
	case l.messages <- msg:
		return nil
	case <-l.ctx.Done():
		return ErrConnectionClosed
	case <-timer.C:
		return ErrSendTimeout
	}
}

// SendEvent queues msg without waiting. It is used from the relay's control
// handler, which must not stall on one slow client.
func (l *ConnectionLoop) SendEvent(msg any) error {
	if l.ctx.Err() != nil {
		return ErrConnectionClosed
	}
	select {
	case l.messages <- msg:
		return nil
	default:
		metrics.DroppedOutboundTotal.Inc()
		return ErrQueueFull
	}
}

// SendMedia copies the frame into a pooled buffer and queues it. It reports
// false when the frame was dropped.
func (l *ConnectionLoop) SendMedia(f api.Frame) bool {
	if l.ctx.Err() != nil {
		return false
	}
	bp := framePool.Get().(*[]byte)
	*bp = api.AppendFrame((*bp)[:0], f)

	select {
	case l.media <- bp:
		return true
	default:
		framePool.Put(bp)
		metrics.DroppedOutboundTotal.Inc()
		return false
	}
}

func (l *ConnectionLoop) writerLoop() {
	defer l.wg.Done()

	for {
		select {
		case msg := <-l.messages:
			if err := l.socket.WriteJSON(msg); err != nil {
				slog.Error("failed to send message", "socketID", l.id, "error", err)
				l.cancel()
				return
			}
		case bp := <-l.media:
			err := l.socket.WriteBinary(*bp)
			framePool.Put(bp)
			if err != nil {
				slog.Error("failed to send media frame", "socketID", l.id, "error", err)
				l.cancel()
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *ConnectionLoop) pingLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.pingTicker.C:
			if err := l.socket.WriteJSON(api.ServerMessage{
				Event: api.ServerMessageEventPing,
				Ping:  &api.PingMessage{Timestamp: time.Now().Unix()},
			}); err != nil {
				slog.Error("failed to send ping", "socketID", l.id, "error", err)
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}

package signalling

import (
	"log/slog"
	"sync"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/api"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/metrics"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/pubsub"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/sockets"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/utils"
)

const notificationQueueSize = 256

// Notifier fans stream lifecycle notifications out to admin sockets. Notify
// never blocks; notifications are dropped when the queue is full.
type Notifier struct {
	admins utils.SyncMap[sockets.SocketID, *ConnectionLoop]
	queue  chan pubsub.Notification
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewNotifier() *Notifier {
	return &Notifier{
		queue: make(chan pubsub.Notification, notificationQueueSize),
		done:  make(chan struct{}),
	}
}

func (n *Notifier) Start() {
	n.wg.Add(1)
	go n.run()
}

func (n *Notifier) Close() {
	n.once.Do(func() {
		close(n.done)
		n.wg.Wait()
	})
}

func (n *Notifier) Notify(item pubsub.Notification) {
	select {
	case n.queue <- item:
	default:
		metrics.DroppedOutboundTotal.Inc()
		slog.Warn("dropping notification", "event", item.Event, "stream", item.Stream)
	}
}

func (n *Notifier) subscribe(id sockets.SocketID, loop *ConnectionLoop) {
	n.admins.Store(id, loop)
}

func (n *Notifier) unsubscribe(id sockets.SocketID) {
	n.admins.LoadAndDelete(id)
}

func (n *Notifier) run() {
	defer n.wg.Done()

	for {
		select {
		case item := <-n.queue:
			notification := api.ToApiNotification(item)
			msg := api.AdminMessage{
				Event:        api.AdminMessageEventNotification,
				Notification: &notification,
			}
			n.admins.Range(func(id sockets.SocketID, loop *ConnectionLoop) bool {
				if err := loop.SendMessage(msg); err != nil {
					slog.Warn("failed to send notification", "socketID", id, "error", err)
				}
				return true
			})
		case <-n.done:
			return
		}
	}
}

package rtmp

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrStreamNotFound    = errors.New("stream not found")
	ErrBroadcasterClosed = errors.New("broadcaster closed")
)

type claimRequest struct {
	key       string
	sessionID string
	reply     chan *streamContext
}

type lookupRequest struct {
	key   string
	reply chan *streamContext
}

type releaseRequest struct {
	ctx   *streamContext
	reply chan struct{}
}

// Broadcaster keeps track of the published streams. It runs on its own goroutine and owns the map from
// stream key to stream context: claiming a key, looking one up and releasing it are requests handled one at
// a time, so two publishers can never both claim the same key.
type Broadcaster struct {
	logger           *zap.Logger
	subscriberBuffer int

	requests  chan interface{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewBroadcaster(logger *zap.Logger, subscriberBuffer int) *Broadcaster {
	if subscriberBuffer <= 0 {
		subscriberBuffer = 1
	}
	b := &Broadcaster{
		logger:           logger,
		subscriberBuffer: subscriberBuffer,
		requests:         make(chan interface{}),
		quit:             make(chan struct{}),
		done:             make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broadcaster) run() {
	defer close(b.done)
	streams := make(map[string]*streamContext)
	for {
		select {
		case req := <-b.requests:
			switch r := req.(type) {
			case claimRequest:
				if _, taken := streams[r.key]; taken {
					r.reply <- nil
					continue
				}
				ctx := newStreamContext(b.logger, r.key, r.sessionID)
				streams[r.key] = ctx
				go ctx.run()
				b.logger.Info("[broadcaster] registered publisher", zap.String("stream_key", r.key), zap.String("session_id", r.sessionID))
				r.reply <- ctx
			case lookupRequest:
				r.reply <- streams[r.key]
			case releaseRequest:
				if streams[r.ctx.key] == r.ctx {
					delete(streams, r.ctx.key)
					close(r.ctx.stop)
					b.logger.Info("[broadcaster] destroyed publisher", zap.String("stream_key", r.ctx.key), zap.String("session_id", r.ctx.publisher))
				}
				close(r.reply)
			}
		case <-b.quit:
			for _, ctx := range streams {
				close(ctx.stop)
			}
			for key, ctx := range streams {
				<-ctx.done
				delete(streams, key)
			}
			return
		}
	}
}

// request hands req to the broadcaster goroutine.
func (b *Broadcaster) request(req interface{}) bool {
	select {
	case b.requests <- req:
		return true
	case <-b.done:
		return false
	}
}

// Publish claims key for the calling session. It fails with ErrPublishRequestDenied if another session
// already publishes under that key.
func (b *Broadcaster) Publish(key, sessionID string) (*Publisher, error) {
	reply := make(chan *streamContext, 1)
	if !b.request(claimRequest{key: key, sessionID: sessionID, reply: reply}) {
		return nil, ErrBroadcasterClosed
	}
	ctx := <-reply
	if ctx == nil {
		return nil, errors.Wrapf(ErrPublishRequestDenied, "stream key %q is already being published", key)
	}
	return &Publisher{broadcaster: b, ctx: ctx}, nil
}

// Subscribe attaches a player to the stream published under key.
func (b *Broadcaster) Subscribe(key, sessionID string) (*Subscription, error) {
	reply := make(chan *streamContext, 1)
	if !b.request(lookupRequest{key: key, reply: reply}) {
		return nil, ErrBroadcasterClosed
	}
	ctx := <-reply
	if ctx == nil {
		return nil, errors.Wrapf(ErrStreamNotFound, "stream key %q", key)
	}

	sub := &Subscription{
		key:       key,
		sessionID: sessionID,
		frames:    make(chan Frame, b.subscriberBuffer),
		ctx:       ctx,
	}
	if !ctx.send(hubEvent{kind: hubSubscribe, sub: sub}) {
		return nil, errors.Wrapf(ErrStreamNotFound, "stream key %q", key)
	}
	return sub, nil
}

// StreamExists reports whether a publisher currently holds key.
func (b *Broadcaster) StreamExists(key string) bool {
	reply := make(chan *streamContext, 1)
	if !b.request(lookupRequest{key: key, reply: reply}) {
		return false
	}
	return <-reply != nil
}

// Close stops every stream and the broadcaster itself. Every player's frame channel is closed by the time
// it returns.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		close(b.quit)
	})
	<-b.done
}

// Publisher is the sending end of a published stream.
type Publisher struct {
	broadcaster *Broadcaster
	ctx         *streamContext
	closeOnce   sync.Once
}

func (p *Publisher) Key() string {
	return p.ctx.key
}

// Publish hands f to every player of the stream. It fails with ErrPublisherDropped once the stream has been
// torn down underneath the publisher.
func (p *Publisher) Publish(f Frame) error {
	if !p.ctx.send(hubEvent{kind: hubFrame, frame: f}) {
		return errors.Wrapf(ErrPublisherDropped, "stream key %q", p.ctx.key)
	}
	return nil
}

// Close releases the stream key and disconnects the players. It returns once the players' frame channels
// are closed.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		reply := make(chan struct{})
		if p.broadcaster.request(releaseRequest{ctx: p.ctx, reply: reply}) {
			<-reply
		}
		<-p.ctx.done
	})
}

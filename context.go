package rtmp

import (
	"sync"
	"sync/atomic"

	"github.com/torresjeff/rtmpd/audio"
	"github.com/torresjeff/rtmpd/video"
	"go.uber.org/zap"
)

// FrameKind tells what a Frame carries.
type FrameKind uint8

const (
	FrameAudio FrameKind = iota
	FrameVideo
	FrameMetadata
)

// Frame is a media message flowing from a publisher to its players.
type Frame struct {
	Kind      FrameKind
	Timestamp uint32
	Payload   []byte
}

type hubEventKind uint8

const (
	hubFrame hubEventKind = iota
	hubSubscribe
	hubUnsubscribe
)

type hubEvent struct {
	kind  hubEventKind
	frame Frame
	sub   *Subscription
}

// streamContext is everything the server knows about one published stream: the players attached to it and
// the frames a player needs before it can start decoding. A single goroutine owns it; publishers and
// players talk to it through events, processed in the order they were sent.
type streamContext struct {
	key       string
	publisher string
	logger    *zap.SugaredLogger

	events chan hubEvent
	stop   chan struct{}
	done   chan struct{}

	// mu is held for reading while an event is being sent. closed is set under the write lock once the
	// context stops accepting events.
	mu     sync.RWMutex
	closed bool
	sealed chan struct{}

	subscribers       map[*Subscription]struct{}
	metadata          *Frame
	avcSequenceHeader *Frame
	aacSequenceHeader *Frame
}

func newStreamContext(logger *zap.Logger, key, publisherID string) *streamContext {
	return &streamContext{
		key:         key,
		publisher:   publisherID,
		logger:      logger.Sugar().With("stream_key", key),
		events:      make(chan hubEvent, 64),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		sealed:      make(chan struct{}),
		subscribers: make(map[*Subscription]struct{}),
	}
}

// send queues an event, and reports false if the context no longer accepts events. An event accepted by
// send is always handled before the subscribers are closed.
func (c *streamContext) send(ev hubEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	c.events <- ev
	return true
}

func (c *streamContext) run() {
	defer close(c.done)
	for {
		select {
		case ev := <-c.events:
			c.handle(ev)
		case <-c.stop:
			go c.seal()
			c.drain()
			for sub := range c.subscribers {
				close(sub.frames)
				delete(c.subscribers, sub)
			}
			c.logger.Debugf("stream context closed")
			return
		}
	}
}

// seal stops accepting events. It waits for the senders in flight, which run keeps serving meanwhile.
func (c *streamContext) seal() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	close(c.sealed)
}

// drain handles events until the context is sealed, then the ones still queued.
func (c *streamContext) drain() {
	for {
		select {
		case ev := <-c.events:
			c.handle(ev)
		case <-c.sealed:
			for {
				select {
				case ev := <-c.events:
					c.handle(ev)
				default:
					return
				}
			}
		}
	}
}

func (c *streamContext) handle(ev hubEvent) {
	switch ev.kind {
	case hubFrame:
		c.cache(ev.frame)
		for sub := range c.subscribers {
			sub.offer(ev.frame, c.logger)
		}
	case hubSubscribe:
		c.subscribers[ev.sub] = struct{}{}
		for _, f := range []*Frame{c.metadata, c.avcSequenceHeader, c.aacSequenceHeader} {
			if f != nil {
				ev.sub.offer(*f, c.logger)
			}
		}
		c.logger.Debugf("subscriber %s attached, %d subscribers", ev.sub.sessionID, len(c.subscribers))
	case hubUnsubscribe:
		if _, ok := c.subscribers[ev.sub]; ok {
			delete(c.subscribers, ev.sub)
			close(ev.sub.frames)
			c.logger.Debugf("subscriber %s detached, %d subscribers", ev.sub.sessionID, len(c.subscribers))
		}
	}
}

func (c *streamContext) cache(f Frame) {
	switch f.Kind {
	case FrameMetadata:
		c.metadata = &f
	case FrameVideo:
		if video.IsSequenceHeader(f.Payload) {
			c.avcSequenceHeader = &f
		}
	case FrameAudio:
		if audio.IsSequenceHeader(f.Payload) {
			c.aacSequenceHeader = &f
		}
	}
}

// Subscription is the receiving end of a player attached to a stream.
type Subscription struct {
	key       string
	sessionID string
	frames    chan Frame
	ctx       *streamContext
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// Frames returns the channel frames are delivered on. It is closed when the publisher goes away or the
// subscription is closed.
func (s *Subscription) Frames() <-chan Frame {
	return s.frames
}

func (s *Subscription) Key() string {
	return s.key
}

// Dropped returns the number of frames that did not fit in the subscription buffer.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the player from the stream.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.ctx.send(hubEvent{kind: hubUnsubscribe, sub: s})
	})
}

// offer delivers f without blocking. A player that does not keep up loses frames instead of slowing down
// the publisher and the other players.
func (s *Subscription) offer(f Frame, logger *zap.SugaredLogger) {
	select {
	case s.frames <- f:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			logger.Debugf("subscriber %s is too slow, %d frames dropped", s.sessionID, n)
		}
	}
}

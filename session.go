package rtmp

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmpd/amf"
	"github.com/torresjeff/rtmpd/chunk"
	"github.com/torresjeff/rtmpd/command"
	"github.com/torresjeff/rtmpd/config"
	"github.com/torresjeff/rtmpd/control"
	"github.com/torresjeff/rtmpd/handshake"
	"github.com/torresjeff/rtmpd/message"
	"github.com/torresjeff/rtmpd/rand"
	"go.uber.org/zap"
)

type streamRole uint8

const (
	roleIdle streamRole = iota
	rolePublishing
	rolePlaying
)

// stream is a message stream created by createStream.
type stream struct {
	id           uint32
	role         streamRole
	key          string
	publisher    *Publisher
	subscription *Subscription
}

// release gives up whatever the stream publishes or plays and makes it idle again.
func (st *stream) release() {
	if st.publisher != nil {
		st.publisher.Close()
		st.publisher = nil
	}
	if st.subscription != nil {
		st.subscription.Close()
		st.subscription = nil
	}
	st.role = roleIdle
	st.key = ""
}

// delivery is a frame received by one of the session's subscriptions, or the end of that subscription.
type delivery struct {
	streamID uint32
	sub      *Subscription
	frame    Frame
	eof      bool
}

// Session is a single client connection. Everything but reading bytes off the socket happens on the
// goroutine calling Run, so none of the session state needs locking.
type Session struct {
	id          string
	logger      *zap.Logger
	conn        net.Conn
	reader      *Reader
	writer      *Writer
	broadcaster *Broadcaster
	cfg         config.RTMPConfig

	handshake *handshake.Server
	decoder   *chunk.Decoder
	encoder   *chunk.Encoder
	input     bytes.Buffer

	appName      string
	streams      map[uint32]*stream
	nextStreamID uint32

	// windowAckSize is the acknowledgement window requested by the peer, 0 until it sends one.
	windowAckSize uint32
	lastAck       uint64
	peerBandwidth uint32

	inbox chan delivery
	done  chan struct{}
}

func NewSession(logger *zap.Logger, conn net.Conn, broadcaster *Broadcaster, cfg config.RTMPConfig) *Session {
	id := rand.SessionID()
	return &Session{
		id:          id,
		logger:      logger.With(zap.String("session_id", id), zap.String("remote_addr", conn.RemoteAddr().String())),
		conn:        conn,
		reader:      NewReader(conn),
		writer:      NewWriter(conn, config.BuffioSize, cfg.WriteTimeout),
		broadcaster: broadcaster,
		cfg:         cfg,
		handshake:   handshake.NewServer(),
		decoder:     chunk.NewDecoder(),
		encoder:     chunk.NewEncoder(),
		streams:     make(map[uint32]*stream),
		inbox:       make(chan delivery),
		done:        make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Run serves the connection until the client leaves, a protocol error occurs or ctx is canceled. The
// connection is closed and every stream registration released before Run returns.
func (s *Session) Run(ctx context.Context) error {
	defer s.close()

	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-s.done:
		}
	}()

	err := s.serve()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) serve() error {
	if err := s.doHandshake(); err != nil {
		return err
	}
	s.logger.Debug("[session] handshake completed", zap.Stringer("scheme", s.handshake.Scheme()))

	reads := make(chan []byte)
	readErr := make(chan error, 1)
	go s.readLoop(reads, readErr)

	// The client may have sent chunks right behind C2.
	if err := s.processInput(); err != nil {
		return err
	}
	if err := s.writer.Flush(); err != nil {
		return transportError(err, "flush")
	}

	for {
		select {
		case data := <-reads:
			s.input.Write(data)
			if err := s.processInput(); err != nil {
				return err
			}
			if err := s.acknowledge(); err != nil {
				return err
			}
		case err := <-readErr:
			return transportError(err, "read")
		case d := <-s.inbox:
			if err := s.deliver(d); err != nil {
				return err
			}
		}
		if err := s.writer.Flush(); err != nil {
			return transportError(err, "flush")
		}
	}
}

func (s *Session) doHandshake() error {
	if s.cfg.HandshakeTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
			return transportError(err, "handshake")
		}
	}

	buf := make([]byte, 2*handshake.PacketSize)
	for s.handshake.State() != handshake.Finish {
		n, readErr := s.reader.Read(buf)
		s.input.Write(buf[:n])
		if err := s.handshake.Handshake(&s.input, s.writer); err != nil {
			return errors.Wrap(err, "handshake error")
		}
		if err := s.writer.Flush(); err != nil {
			return transportError(err, "handshake")
		}
		if readErr != nil && s.handshake.State() != handshake.Finish {
			return transportError(readErr, "handshake")
		}
	}

	return transportError(s.conn.SetReadDeadline(time.Time{}), "handshake")
}

// readLoop feeds the bytes read from the connection to the session goroutine.
func (s *Session) readLoop(reads chan<- []byte, readErr chan<- error) {
	buf := make([]byte, config.BuffioSize)
	for {
		n, err := s.reader.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case reads <- data:
			case <-s.done:
				return
			}
		}
		if err != nil {
			readErr <- err
			return
		}
	}
}

// processInput handles every complete message in the input buffer. Messages are handled one at a time
// because protocol control messages change how the next chunks are decoded.
func (s *Session) processInput() error {
	for {
		c, err := s.decoder.ReadChunk(&s.input)
		if err != nil {
			return errors.Wrap(err, "chunk decode error")
		}
		if c == nil {
			return nil
		}

		data, err := message.Parse(c)
		if err != nil {
			return errors.Wrapf(err, "message error: %s", c.MessageType)
		}
		if data == nil {
			s.logger.Debug("[session] ignoring unsupported message", zap.Stringer("type", c.MessageType))
			continue
		}
		if err := s.handleMessage(c, data); err != nil {
			return err
		}
	}
}

func (s *Session) handleMessage(c *chunk.Chunk, data message.Data) error {
	switch m := data.(type) {
	case *message.Amf0Command:
		return s.handleCommand(c.MessageStreamID, m)
	case *message.AudioData:
		return s.onMedia(c, FrameAudio, m.Data)
	case *message.VideoData:
		return s.onMedia(c, FrameVideo, m.Data)
	case *message.AmfData:
		return s.onMedia(c, FrameMetadata, m.Data)
	case *message.SetChunkSize:
		if m.ChunkSize == 0 || m.ChunkSize > config.MaxChunkSize {
			return errors.Wrapf(ErrInvalidChunkSize, "%d", m.ChunkSize)
		}
		s.decoder.SetChunkSize(m.ChunkSize)
		s.logger.Debug("[session] peer chunk size changed", zap.Uint32("chunk_size", m.ChunkSize))
	case *message.Abort:
		s.decoder.Abort(m.ChunkStreamID)
	case *message.WindowAcknowledgementSize:
		s.windowAckSize = m.Size
	case *message.SetPeerBandwidth:
		s.peerBandwidth = m.Size
	case *message.Acknowledgement:
		s.logger.Debug("[session] peer acknowledged", zap.Uint32("sequence_number", m.SequenceNumber))
	case *message.UserControl:
		if m.Event == control.PingRequest && len(m.Data) >= 4 {
			return control.WritePingResponse(s.writer, s.encoder, binary.BigEndian.Uint32(m.Data))
		}
	}
	return nil
}

// acknowledge sends an Acknowledgement once the peer's window has been received since the last one.
func (s *Session) acknowledge() error {
	if s.windowAckSize == 0 {
		return nil
	}
	received := s.reader.ReadBytes()
	if received-s.lastAck < uint64(s.windowAckSize) {
		return nil
	}
	s.lastAck = received
	return control.WriteAcknowledgement(s.writer, s.encoder, uint32(received))
}

func (s *Session) handleCommand(streamID uint32, cmd *message.Amf0Command) error {
	switch cmd.Name {
	case command.Connect:
		return s.onConnect(cmd)
	case command.CreateStream:
		return s.onCreateStream(cmd)
	case command.Publish:
		return s.onPublish(streamID, cmd)
	case command.Play:
		return s.onPlay(streamID, cmd)
	case command.DeleteStream:
		return s.onDeleteStream(cmd)
	case command.CloseStream:
		if st, ok := s.streams[streamID]; ok {
			st.release()
		}
	case command.FCPublish:
		name, _ := streamName(cmd)
		return command.WriteOnFCPublish(s.writer, s.encoder, name)
	case command.FCUnpublish:
		s.onFCUnpublish(cmd)
	case command.ReleaseStream, command.GetStreamLen:
		// Nothing to do: the stream is released by deleteStream or when the connection ends.
	default:
		s.logger.Debug("[session] ignoring unsupported command", zap.String("command", cmd.Name))
	}
	return nil
}

func (s *Session) onConnect(cmd *message.Amf0Command) error {
	app, ok := amf.LookupString(cmd.CommandObject, "app")
	app = strings.Trim(app, "/")
	if !ok || app == "" {
		return ErrNoAppName
	}

	if !s.cfg.AllowsApp(app) {
		err := command.WriteConnectError(s.writer, s.encoder, cmd.TransactionID, command.ConnectRejected, "Application "+app+" is not available.")
		if err == nil {
			err = s.writer.Flush()
		}
		if err != nil {
			return transportError(err, "connect")
		}
		return errors.Wrapf(ErrConnectRequestDenied, "app %q", app)
	}

	s.appName = app
	s.logger.Info("[session] connect", zap.String("app", app))

	objectEncoding, _ := amf.AsNumber(amf.Lookup(cmd.CommandObject, "objectEncoding"))

	if err := control.WriteWindowAcknowledgementSize(s.writer, s.encoder, s.cfg.WindowAckSize); err != nil {
		return err
	}
	if err := control.WriteSetPeerBandwidth(s.writer, s.encoder, s.cfg.PeerBandwidth, control.LimitDynamic); err != nil {
		return err
	}
	if err := control.WriteSetChunkSize(s.writer, s.encoder, s.cfg.ChunkSize); err != nil {
		return err
	}
	s.encoder.SetChunkSize(s.cfg.ChunkSize)

	return command.WriteConnectResponse(s.writer, s.encoder, command.ConnectResponse{
		TransactionID:  cmd.TransactionID,
		FMSVer:         config.FlashMediaServerVersion,
		Capabilities:   float64(config.Capabilities),
		Mode:           float64(config.Mode),
		Level:          command.LevelStatus,
		Code:           command.ConnectSuccess,
		Description:    "Connection succeeded.",
		ObjectEncoding: objectEncoding,
	})
}

func (s *Session) onCreateStream(cmd *message.Amf0Command) error {
	s.nextStreamID++
	id := s.nextStreamID
	s.streams[id] = &stream{id: id}
	return command.WriteCreateStreamResponse(s.writer, s.encoder, cmd.TransactionID, id)
}

func (s *Session) onDeleteStream(cmd *message.Amf0Command) error {
	if len(cmd.Others) == 0 {
		return nil
	}
	id, ok := amf.AsNumber(cmd.Others[0])
	if !ok {
		return nil
	}
	if st, ok := s.streams[uint32(id)]; ok {
		st.release()
		delete(s.streams, st.id)
	}
	return nil
}

// onFCUnpublish stops publishing the named stream, if this session publishes it.
func (s *Session) onFCUnpublish(cmd *message.Amf0Command) {
	name, ok := streamName(cmd)
	if !ok {
		return
	}
	key := s.appName + "/" + name
	for _, st := range s.streams {
		if st.role == rolePublishing && st.key == key {
			s.logger.Info("[session] unpublish", zap.String("stream_key", key))
			st.release()
		}
	}
}

// streamName returns the first argument of a publish, play or FCPublish command, without its query string.
func streamName(cmd *message.Amf0Command) (string, bool) {
	if len(cmd.Others) == 0 {
		return "", false
	}
	name, ok := amf.AsString(cmd.Others[0])
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	return name, ok && name != ""
}

// streamFor resolves the target of a publish or play command.
func (s *Session) streamFor(streamID uint32, cmd *message.Amf0Command) (*stream, string, error) {
	if s.appName == "" {
		return nil, "", ErrNoAppName
	}
	name, ok := streamName(cmd)
	if !ok {
		return nil, "", ErrNoStreamName
	}
	st, ok := s.streams[streamID]
	if !ok {
		return nil, "", errors.Wrapf(ErrUnknownStreamID, "stream %d", streamID)
	}
	if st.role != roleIdle {
		st.release()
	}
	return st, s.appName + "/" + name, nil
}

func (s *Session) onPublish(streamID uint32, cmd *message.Amf0Command) error {
	st, key, err := s.streamFor(streamID, cmd)
	if err != nil {
		return err
	}

	publisher, err := s.broadcaster.Publish(key, s.id)
	if err != nil {
		if !errors.Is(err, ErrPublishRequestDenied) {
			return err
		}
		werr := command.WriteOnStatus(s.writer, s.encoder, streamID, 0, command.LevelError, command.PublishBadName, "Stream "+key+" is already being published.")
		if werr == nil {
			werr = s.writer.Flush()
		}
		if werr != nil {
			return transportError(werr, "publish")
		}
		return err
	}

	st.role = rolePublishing
	st.key = key
	st.publisher = publisher
	s.logger.Info("[session] publish", zap.String("stream_key", key), zap.Uint32("stream_id", streamID))

	if err := control.WriteStreamBegin(s.writer, s.encoder, streamID); err != nil {
		return err
	}
	return command.WriteOnStatus(s.writer, s.encoder, streamID, 0, command.LevelStatus, command.PublishStart, "Publishing "+key+".")
}

func (s *Session) onPlay(streamID uint32, cmd *message.Amf0Command) error {
	if s.cfg.DisablePlay {
		return ErrPlayNotSupported
	}
	st, key, err := s.streamFor(streamID, cmd)
	if err != nil {
		return err
	}

	sub, err := s.broadcaster.Subscribe(key, s.id)
	if errors.Is(err, ErrStreamNotFound) {
		s.logger.Info("[session] play of unknown stream", zap.String("stream_key", key))
		return command.WriteOnStatus(s.writer, s.encoder, streamID, 0, command.LevelError, command.PlayStreamNotFound, "Stream "+key+" not found.")
	}
	if err != nil {
		return err
	}

	st.role = rolePlaying
	st.key = key
	st.subscription = sub
	s.logger.Info("[session] play", zap.String("stream_key", key), zap.Uint32("stream_id", streamID))

	if err := control.WriteStreamBegin(s.writer, s.encoder, streamID); err != nil {
		return err
	}
	if err := command.WriteOnStatus(s.writer, s.encoder, streamID, 0, command.LevelStatus, command.PlayReset, "Playing and resetting "+key+"."); err != nil {
		return err
	}
	if err := command.WriteOnStatus(s.writer, s.encoder, streamID, 0, command.LevelStatus, command.PlayStart, "Started playing "+key+"."); err != nil {
		return err
	}
	if err := command.WriteSampleAccess(s.writer, s.encoder, streamID); err != nil {
		return err
	}

	go s.forward(streamID, sub)
	return nil
}

// forward moves the frames of sub into the session inbox until the subscription ends.
func (s *Session) forward(streamID uint32, sub *Subscription) {
	for f := range sub.Frames() {
		select {
		case s.inbox <- delivery{streamID: streamID, sub: sub, frame: f}:
		case <-s.done:
			return
		}
	}
	select {
	case s.inbox <- delivery{streamID: streamID, sub: sub, eof: true}:
	case <-s.done:
	}
}

// onMedia forwards audio, video and metadata sent on a publishing stream.
func (s *Session) onMedia(c *chunk.Chunk, kind FrameKind, payload []byte) error {
	st, ok := s.streams[c.MessageStreamID]
	if !ok {
		return errors.Wrapf(ErrUnknownStreamID, "stream %d", c.MessageStreamID)
	}
	if st.role != rolePublishing {
		s.logger.Debug("[session] dropping media on a stream that is not publishing", zap.Uint32("stream_id", st.id))
		return nil
	}
	if kind == FrameMetadata {
		payload = stripSetDataFrame(payload)
	}
	return st.publisher.Publish(Frame{Kind: kind, Timestamp: c.Timestamp, Payload: payload})
}

// stripSetDataFrame removes the @setDataFrame prefix encoders put in front of onMetaData, which is what
// players expect to receive.
func stripSetDataFrame(payload []byte) []byte {
	d := amf.NewDecoder(payload)
	if name, err := d.DecodeString(); err == nil && name == command.SetDataFrame {
		return payload[len(payload)-d.Len():]
	}
	return payload
}

// deliver writes a frame to a playing stream.
func (s *Session) deliver(d delivery) error {
	st, ok := s.streams[d.streamID]
	if !ok || st.subscription != d.sub {
		// The stream stopped playing this subscription in the meantime.
		return nil
	}

	if d.eof {
		key := st.key
		st.release()
		if err := control.WriteStreamEOF(s.writer, s.encoder, d.streamID); err != nil {
			return transportError(err, "write")
		}
		if err := command.WriteOnStatus(s.writer, s.encoder, d.streamID, 0, command.LevelStatus, command.PlayUnpublishNotify, "Stream "+key+" was unpublished."); err != nil {
			return transportError(err, "write")
		}
		if err := s.writer.Flush(); err != nil {
			return transportError(err, "flush")
		}
		return errors.Wrapf(ErrPublisherDisconnected, "stream key %q", key)
	}

	var csid uint32
	var typ chunk.MessageType
	switch d.frame.Kind {
	case FrameAudio:
		csid, typ = chunk.AudioChunkStreamID, chunk.TypeAudio
	case FrameVideo:
		csid, typ = chunk.VideoChunkStreamID, chunk.TypeVideo
	default:
		csid, typ = chunk.DataChunkStreamID, chunk.TypeDataAMF0
	}
	if err := s.encoder.WriteChunk(s.writer, chunk.New(csid, d.frame.Timestamp, typ, d.streamID, d.frame.Payload)); err != nil {
		return transportError(err, "write")
	}
	return nil
}

func (s *Session) close() {
	close(s.done)
	for id, st := range s.streams {
		if st.role == rolePublishing {
			s.logger.Info("[session] publisher disconnected", zap.String("stream_key", st.key))
		}
		st.release()
		delete(s.streams, id)
	}
	s.conn.Close()
}

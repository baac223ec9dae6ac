package rtmp

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/torresjeff/rtmpd/amf"
	"github.com/torresjeff/rtmpd/chunk"
	"github.com/torresjeff/rtmpd/command"
	"github.com/torresjeff/rtmpd/config"
	"github.com/torresjeff/rtmpd/control"
	"github.com/torresjeff/rtmpd/handshake"
	"github.com/torresjeff/rtmpd/message"
	"go.uber.org/zap"
)

const testTimeout = 5 * time.Second

var (
	avcSequenceHeader = []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x64, 0x00, 0x1F}
	avcKeyFrame       = []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xAA, 0xBB}
	avcInterFrame     = []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0xCC}
)

// testClient plays the client side of a session over a net.Pipe. Everything the server sends is decoded
// on a separate goroutine so the server never blocks on a full pipe.
type testClient struct {
	t        *testing.T
	conn     net.Conn
	encoder  *chunk.Encoder
	messages chan *chunk.Chunk
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	c := &testClient{
		t:        t,
		conn:     conn,
		encoder:  chunk.NewEncoder(),
		messages: make(chan *chunk.Chunk, 1024),
	}
	c.handshake()
	go c.readLoop()
	return c
}

func (c *testClient) handshake() {
	require.NoError(c.t, c.conn.SetDeadline(time.Now().Add(testTimeout)))
	defer c.conn.SetDeadline(time.Time{})

	c0c1 := make([]byte, 1+handshake.PacketSize)
	c0c1[0] = handshake.Version
	binary.BigEndian.PutUint32(c0c1[1:5], 1)
	for i := 9; i < len(c0c1); i++ {
		c0c1[i] = byte(i)
	}
	_, err := c.conn.Write(c0c1)
	require.NoError(c.t, err)

	s0s1s2 := make([]byte, 1+2*handshake.PacketSize)
	_, err = io.ReadFull(c.conn, s0s1s2)
	require.NoError(c.t, err)
	require.Equal(c.t, handshake.Version, s0s1s2[0])
	require.Equal(c.t, c0c1[9:], s0s1s2[1+handshake.PacketSize+8:])

	_, err = c.conn.Write(s0s1s2[1 : 1+handshake.PacketSize])
	require.NoError(c.t, err)
}

func (c *testClient) readLoop() {
	defer close(c.messages)
	decoder := chunk.NewDecoder()
	var in bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		in.Write(buf[:n])
		for {
			m, derr := decoder.ReadChunk(&in)
			if derr != nil || m == nil {
				break
			}
			if m.MessageType == chunk.TypeSetChunkSize {
				if size, err := control.ReadSetChunkSize(m.Payload); err == nil {
					decoder.SetChunkSize(size)
				}
			}
			c.messages <- m
		}
		if err != nil {
			return
		}
	}
}

func (c *testClient) send(csid uint32, typ chunk.MessageType, streamID uint32, timestamp uint32, payload []byte) {
	require.NoError(c.t, c.encoder.WriteChunk(c.conn, chunk.New(csid, timestamp, typ, streamID, payload)))
}

func (c *testClient) command(streamID uint32, values ...amf.Value) {
	payload, err := amf.Marshal(values...)
	require.NoError(c.t, err)
	c.send(chunk.CommandChunkStreamID, chunk.TypeCommandAMF0, streamID, 0, payload)
}

// next returns the next message sent by the server, or nil once the connection is closed.
func (c *testClient) next() *chunk.Chunk {
	select {
	case m := <-c.messages:
		return m
	case <-time.After(testTimeout):
		c.t.Fatal("timed out waiting for a message from the server")
		return nil
	}
}

// nextCommand skips protocol control messages and returns the next command.
func (c *testClient) nextCommand() *message.Amf0Command {
	for {
		m := c.next()
		require.NotNil(c.t, m, "connection closed")
		if m.MessageType != chunk.TypeCommandAMF0 {
			continue
		}
		data, err := message.Parse(m)
		require.NoError(c.t, err)
		return data.(*message.Amf0Command)
	}
}

// nextStatus returns the code of the next onStatus command.
func (c *testClient) nextStatus() string {
	cmd := c.nextCommand()
	require.Equal(c.t, command.OnStatus, cmd.Name)
	require.NotEmpty(c.t, cmd.Others)
	code, ok := amf.LookupString(cmd.Others[0], "code")
	require.True(c.t, ok)
	return code
}

func (c *testClient) ping(timestamp uint32) {
	payload := make([]byte, 6)
	binary.BigEndian.PutUint16(payload, uint16(control.PingRequest))
	binary.BigEndian.PutUint32(payload[2:], timestamp)
	c.send(chunk.ProtocolControlChunkStreamID, chunk.TypeUserControl, 0, 0, payload)

	for {
		m := c.next()
		require.NotNil(c.t, m, "connection closed")
		if m.MessageType != chunk.TypeUserControl {
			continue
		}
		event, data, err := control.ReadUserControl(m.Payload)
		require.NoError(c.t, err)
		if event == control.PingResponse {
			require.Equal(c.t, timestamp, binary.BigEndian.Uint32(data))
			return
		}
	}
}

func (c *testClient) connect(app string) *message.Amf0Command {
	c.command(0, amf.String(command.Connect), amf.Number(1), amf.Object(
		amf.Property{Key: "app", Value: amf.String(app)},
		amf.Property{Key: "tcUrl", Value: amf.String("rtmp://localhost/" + app)},
		amf.Property{Key: "objectEncoding", Value: amf.Number(0)},
	))
	return c.nextCommand()
}

func (c *testClient) createStream() uint32 {
	c.command(0, amf.String(command.CreateStream), amf.Number(2), amf.Null())
	cmd := c.nextCommand()
	require.Equal(c.t, command.Result, cmd.Name)
	require.Equal(c.t, float64(2), cmd.TransactionID)
	require.NotEmpty(c.t, cmd.Others)
	id, ok := amf.AsNumber(cmd.Others[0])
	require.True(c.t, ok)
	return uint32(id)
}

func (c *testClient) publish(streamID uint32, name string) {
	c.command(streamID, amf.String(command.Publish), amf.Number(0), amf.Null(), amf.String(name), amf.String("live"))
}

func (c *testClient) play(streamID uint32, name string) {
	c.command(streamID, amf.String(command.Play), amf.Number(0), amf.Null(), amf.String(name))
}

type testSession struct {
	client *testClient
	errs   chan error
	cancel context.CancelFunc
}

func (s *testSession) wait(t *testing.T) error {
	select {
	case err := <-s.errs:
		return err
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for the session to end")
		return nil
	}
}

func testConfig() config.RTMPConfig {
	return config.Default().RTMP
}

func startSession(t *testing.T, b *Broadcaster, cfg config.RTMPConfig) *testSession {
	serverConn, clientConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- NewSession(zap.NewNop(), serverConn, b, cfg).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		clientConn.Close()
	})
	return &testSession{client: newTestClient(t, clientConn), errs: errs, cancel: cancel}
}

func newTestBroadcaster(t *testing.T) *Broadcaster {
	b := NewBroadcaster(zap.NewNop(), config.DefaultSubscriberBuffer)
	t.Cleanup(b.Close)
	return b
}

func TestSession_Connect(t *testing.T) {
	s := startSession(t, newTestBroadcaster(t), testConfig())
	c := s.client

	c.command(0, amf.String(command.Connect), amf.Number(1), amf.Object(
		amf.Property{Key: "app", Value: amf.String("app")},
		amf.Property{Key: "objectEncoding", Value: amf.Number(3)},
	))

	var types []chunk.MessageType
	var result *message.Amf0Command
	for result == nil {
		m := c.next()
		require.NotNil(t, m)
		types = append(types, m.MessageType)
		switch m.MessageType {
		case chunk.TypeWindowAckSize:
			size, err := control.ReadWindowAcknowledgementSize(m.Payload)
			require.NoError(t, err)
			require.Equal(t, config.DefaultClientWindowSize, size)
		case chunk.TypeSetPeerBandwidth:
			size, limit, err := control.ReadSetPeerBandwidth(m.Payload)
			require.NoError(t, err)
			require.Equal(t, config.DefaultPeerBandwidth, size)
			require.Equal(t, control.LimitDynamic, limit)
		case chunk.TypeSetChunkSize:
			size, err := control.ReadSetChunkSize(m.Payload)
			require.NoError(t, err)
			require.Equal(t, config.DefaultChunkSize, size)
		case chunk.TypeCommandAMF0:
			data, err := message.Parse(m)
			require.NoError(t, err)
			result = data.(*message.Amf0Command)
		}
	}

	require.Equal(t, []chunk.MessageType{
		chunk.TypeWindowAckSize,
		chunk.TypeSetPeerBandwidth,
		chunk.TypeSetChunkSize,
		chunk.TypeCommandAMF0,
	}, types)
	require.Equal(t, command.Result, result.Name)
	require.Equal(t, float64(1), result.TransactionID)

	fmsVer, ok := amf.LookupString(result.CommandObject, "fmsVer")
	require.True(t, ok)
	require.Equal(t, config.FlashMediaServerVersion, fmsVer)
	require.NotEmpty(t, result.Others)
	code, _ := amf.LookupString(result.Others[0], "code")
	require.Equal(t, command.ConnectSuccess, code)
	encoding, _ := amf.AsNumber(amf.Lookup(result.Others[0], "objectEncoding"))
	require.Equal(t, float64(3), encoding)

	require.Equal(t, uint32(1), c.createStream())
	require.Equal(t, uint32(2), c.createStream())
}

func TestSession_Publish(t *testing.T) {
	b := newTestBroadcaster(t)
	s := startSession(t, b, testConfig())
	c := s.client

	c.connect("app")
	id := c.createStream()
	c.command(0, amf.String(command.FCPublish), amf.Number(3), amf.Null(), amf.String("live"))
	cmd := c.nextCommand()
	require.Equal(t, command.OnFCPublish, cmd.Name)

	c.publish(id, "live?token=abc")
	require.Equal(t, command.PublishStart, c.nextStatus())
	require.True(t, b.StreamExists("app/live"))

	c.conn.Close()
	err := s.wait(t)
	require.True(t, IsClientClosed(err), "unexpected error: %v", err)
	require.False(t, b.StreamExists("app/live"))
}

func TestSession_PublishExclusive(t *testing.T) {
	b := newTestBroadcaster(t)

	first := startSession(t, b, testConfig())
	first.client.connect("app")
	first.client.publish(first.client.createStream(), "live")
	require.Equal(t, command.PublishStart, first.client.nextStatus())

	second := startSession(t, b, testConfig())
	second.client.connect("app")
	second.client.publish(second.client.createStream(), "live")
	require.Equal(t, command.PublishBadName, second.client.nextStatus())
	require.ErrorIs(t, second.wait(t), ErrPublishRequestDenied)

	first.client.conn.Close()
	first.wait(t)

	third := startSession(t, b, testConfig())
	third.client.connect("app")
	third.client.publish(third.client.createStream(), "live")
	require.Equal(t, command.PublishStart, third.client.nextStatus())
}

func TestSession_Play(t *testing.T) {
	b := newTestBroadcaster(t)

	publisher := startSession(t, b, testConfig())
	pc := publisher.client
	pc.connect("app")
	pubID := pc.createStream()
	pc.publish(pubID, "live")
	require.Equal(t, command.PublishStart, pc.nextStatus())

	metadata, err := amf.Marshal(
		amf.String(command.SetDataFrame),
		amf.String(command.OnMetaData),
		amf.Object(amf.Property{Key: "width", Value: amf.Number(1280)}),
	)
	require.NoError(t, err)
	pc.send(chunk.DataChunkStreamID, chunk.TypeDataAMF0, pubID, 0, metadata)
	pc.send(chunk.VideoChunkStreamID, chunk.TypeVideo, pubID, 0, avcSequenceHeader)
	pc.send(chunk.VideoChunkStreamID, chunk.TypeVideo, pubID, 0, avcKeyFrame)
	// Once the ping is answered the frames above have reached the stream.
	pc.ping(7)

	player := startSession(t, b, testConfig())
	c := player.client
	c.connect("app")
	playID := c.createStream()
	c.play(playID, "live")

	m := c.next()
	require.Equal(t, chunk.TypeUserControl, m.MessageType)
	event, data, err := control.ReadUserControl(m.Payload)
	require.NoError(t, err)
	require.Equal(t, control.StreamBegin, event)
	require.Equal(t, playID, binary.BigEndian.Uint32(data))

	require.Equal(t, command.PlayReset, c.nextStatus())
	require.Equal(t, command.PlayStart, c.nextStatus())

	m = c.next()
	require.Equal(t, chunk.TypeDataAMF0, m.MessageType)
	name, err := amf.NewDecoder(m.Payload).DecodeString()
	require.NoError(t, err)
	require.Equal(t, command.SampleAccess, name)

	// Cached metadata, without @setDataFrame, then the sequence header. The key frame was not cached.
	m = c.next()
	require.Equal(t, chunk.TypeDataAMF0, m.MessageType)
	require.Equal(t, playID, m.MessageStreamID)
	require.Equal(t, metadata[len(metadata)-len(m.Payload):], m.Payload)
	name, err = amf.NewDecoder(m.Payload).DecodeString()
	require.NoError(t, err)
	require.Equal(t, command.OnMetaData, name)

	m = c.next()
	require.Equal(t, chunk.TypeVideo, m.MessageType)
	require.Equal(t, avcSequenceHeader, m.Payload)

	pc.send(chunk.VideoChunkStreamID, chunk.TypeVideo, pubID, 40, avcInterFrame)
	m = c.next()
	require.Equal(t, chunk.TypeVideo, m.MessageType)
	require.Equal(t, uint32(40), m.Timestamp)
	require.Equal(t, playID, m.MessageStreamID)
	require.Equal(t, avcInterFrame, m.Payload)

	pc.conn.Close()
	publisher.wait(t)

	m = c.next()
	require.Equal(t, chunk.TypeUserControl, m.MessageType)
	event, _, err = control.ReadUserControl(m.Payload)
	require.NoError(t, err)
	require.Equal(t, control.StreamEOF, event)
	require.Equal(t, command.PlayUnpublishNotify, c.nextStatus())
	require.ErrorIs(t, player.wait(t), ErrPublisherDisconnected)
}

func TestSession_PlayStreamNotFound(t *testing.T) {
	s := startSession(t, newTestBroadcaster(t), testConfig())
	c := s.client

	c.connect("app")
	c.play(c.createStream(), "missing")
	require.Equal(t, command.PlayStreamNotFound, c.nextStatus())

	// The session carries on.
	c.ping(42)
}

func TestSession_PlayDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.DisablePlay = true
	s := startSession(t, newTestBroadcaster(t), cfg)

	s.client.connect("app")
	s.client.play(s.client.createStream(), "live")
	require.ErrorIs(t, s.wait(t), ErrPlayNotSupported)
}

func TestSession_Errors(t *testing.T) {
	tests := []struct {
		name string
		run  func(c *testClient)
		err  error
	}{
		{
			name: "publish on unknown stream",
			run: func(c *testClient) {
				c.connect("app")
				c.publish(5, "live")
			},
			err: ErrUnknownStreamID,
		},
		{
			name: "publish before connect",
			run: func(c *testClient) {
				c.publish(1, "live")
			},
			err: ErrNoAppName,
		},
		{
			name: "publish without a name",
			run: func(c *testClient) {
				c.connect("app")
				id := c.createStream()
				c.command(id, amf.String(command.Publish), amf.Number(0), amf.Null())
			},
			err: ErrNoStreamName,
		},
		{
			name: "connect without app",
			run: func(c *testClient) {
				c.command(0, amf.String(command.Connect), amf.Number(1), amf.Object(
					amf.Property{Key: "tcUrl", Value: amf.String("rtmp://localhost/")},
				))
			},
			err: ErrNoAppName,
		},
		{
			name: "invalid chunk size",
			run: func(c *testClient) {
				payload := make([]byte, 4)
				c.send(chunk.ProtocolControlChunkStreamID, chunk.TypeSetChunkSize, 0, 0, payload)
			},
			err: ErrInvalidChunkSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := startSession(t, newTestBroadcaster(t), testConfig())
			tt.run(s.client)
			require.ErrorIs(t, s.wait(t), tt.err)
		})
	}
}

func TestSession_ConnectDenied(t *testing.T) {
	cfg := testConfig()
	cfg.Apps = []string{"live"}
	s := startSession(t, newTestBroadcaster(t), cfg)

	cmd := s.client.connect("other")
	require.Equal(t, command.Error, cmd.Name)
	require.Equal(t, float64(1), cmd.TransactionID)
	require.NotEmpty(t, cmd.Others)
	code, _ := amf.LookupString(cmd.Others[0], "code")
	require.Equal(t, command.ConnectRejected, code)
	require.ErrorIs(t, s.wait(t), ErrConnectRequestDenied)
}

func TestSession_HandshakeTimeout(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	cfg := testConfig()
	cfg.HandshakeTimeout = 50 * time.Millisecond

	err := NewSession(zap.NewNop(), serverConn, newTestBroadcaster(t), cfg).Run(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	require.True(t, IsClientClosed(err))
}

func TestSession_UnsupportedVersion(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	errs := make(chan error, 1)
	go func() {
		errs <- NewSession(zap.NewNop(), serverConn, newTestBroadcaster(t), testConfig()).Run(context.Background())
	}()

	c0c1 := make([]byte, 1+handshake.PacketSize)
	c0c1[0] = 6
	clientConn.Write(c0c1)

	select {
	case err := <-errs:
		require.ErrorIs(t, err, handshake.ErrUnsupportedVersion)
		require.False(t, IsClientClosed(err))
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for the session to end")
	}
}

func TestSession_ContextCanceled(t *testing.T) {
	b := newTestBroadcaster(t)
	s := startSession(t, b, testConfig())
	s.client.connect("app")
	s.client.publish(s.client.createStream(), "live")
	require.Equal(t, command.PublishStart, s.client.nextStatus())

	s.cancel()
	require.ErrorIs(t, s.wait(t), context.Canceled)
	require.False(t, b.StreamExists("app/live"))
}

func TestSession_WindowAcknowledgement(t *testing.T) {
	s := startSession(t, newTestBroadcaster(t), testConfig())
	c := s.client

	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, 100)
	// The handshake alone already exceeds the window.
	c.send(chunk.ProtocolControlChunkStreamID, chunk.TypeWindowAckSize, 0, 0, payload)

	for {
		m := c.next()
		require.NotNil(t, m, "connection closed")
		if m.MessageType != chunk.TypeAck {
			continue
		}
		sequence, err := control.ReadAcknowledgement(m.Payload)
		require.NoError(t, err)
		require.GreaterOrEqual(t, sequence, uint32(2*handshake.PacketSize+1))
		return
	}
}

func TestSession_FCUnpublish(t *testing.T) {
	b := newTestBroadcaster(t)
	s := startSession(t, b, testConfig())
	c := s.client

	c.connect("app")
	id := c.createStream()
	c.publish(id, "live")
	require.Equal(t, command.PublishStart, c.nextStatus())

	c.command(0, amf.String(command.FCUnpublish), amf.Number(4), amf.Null(), amf.String("live"))
	c.ping(1)
	require.False(t, b.StreamExists("app/live"))

	// Media sent after unpublishing is dropped and the stream can be published again.
	c.send(chunk.VideoChunkStreamID, chunk.TypeVideo, id, 0, avcInterFrame)
	c.publish(id, "live")
	require.Equal(t, command.PublishStart, c.nextStatus())
}

func TestSession_SetChunkSizeAppliesToNextMessage(t *testing.T) {
	s := startSession(t, newTestBroadcaster(t), testConfig())
	c := s.client

	payload, err := amf.Marshal(amf.String(command.Connect), amf.Number(1), amf.Object(
		amf.Property{Key: "app", Value: amf.String("app")},
		amf.Property{Key: "tcUrl", Value: amf.String("rtmp://localhost/app?" + string(bytes.Repeat([]byte("x"), 300)))},
	))
	require.NoError(t, err)
	require.Greater(t, len(payload), int(chunk.DefaultChunkSize))

	// Both messages go out in a single write: the server must apply the new chunk size before decoding the
	// connect command.
	var buf bytes.Buffer
	require.NoError(t, control.WriteSetChunkSize(&buf, c.encoder, 4096))
	c.encoder.SetChunkSize(4096)
	require.NoError(t, c.encoder.WriteChunk(&buf, chunk.New(chunk.CommandChunkStreamID, 0, chunk.TypeCommandAMF0, 0, payload)))
	_, err = c.conn.Write(buf.Bytes())
	require.NoError(t, err)

	cmd := c.nextCommand()
	require.Equal(t, command.Result, cmd.Name)
	require.Equal(t, float64(1), cmd.TransactionID)
}

func TestSession_PlayLargeFrameAfterIdle(t *testing.T) {
	cfg := testConfig()
	cfg.WriteTimeout = 200 * time.Millisecond
	b := newTestBroadcaster(t)

	publisher := startSession(t, b, cfg)
	pc := publisher.client
	pc.connect("app")
	pubID := pc.createStream()
	pc.publish(pubID, "live")
	require.Equal(t, command.PublishStart, pc.nextStatus())

	player := startSession(t, b, cfg)
	c := player.client
	c.connect("app")
	c.play(c.createStream(), "live")
	require.Equal(t, command.PlayReset, c.nextStatus())
	require.Equal(t, command.PlayStart, c.nextStatus())

	// Longer than the write timeout, then a frame that does not fit in the write buffer.
	time.Sleep(500 * time.Millisecond)
	frame := make([]byte, 100*1024)
	copy(frame, avcKeyFrame)
	require.Greater(t, len(frame), config.BuffioSize)
	pc.send(chunk.VideoChunkStreamID, chunk.TypeVideo, pubID, 40, frame)

	for {
		m := c.next()
		require.NotNil(t, m, "player session ended instead of receiving the frame")
		if m.MessageType == chunk.TypeVideo {
			require.Equal(t, frame, m.Payload)
			require.Equal(t, uint32(40), m.Timestamp)
			return
		}
	}
}

func TestSession_UnsupportedVersionWithoutC1(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	errs := make(chan error, 1)
	go func() {
		errs <- NewSession(zap.NewNop(), serverConn, newTestBroadcaster(t), testConfig()).Run(context.Background())
	}()

	// Only C0, then the client waits for S0.
	_, err := clientConn.Write([]byte{6})
	require.NoError(t, err)

	select {
	case err := <-errs:
		require.ErrorIs(t, err, handshake.ErrUnsupportedVersion)
		require.False(t, IsClientClosed(err))
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for the session to end")
	}
}

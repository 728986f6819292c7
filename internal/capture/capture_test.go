package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crosstalk/relay/domain"
)

func TestEncodeFrameScaling(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1.0, 32767},
		{-1.0, -32768},
		{0.5, 16383},
		{-0.5, -16384},
		{1.5, 32767},
		{-1.5, -32768},
	}

	for _, tc := range tests {
		out := EncodeFrame([]float32{tc.in})
		got := int16(binary.LittleEndian.Uint16(out))
		if got != tc.want {
			t.Errorf("EncodeFrame(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestEncodeFrameLittleEndian(t *testing.T) {
	out := EncodeFrame([]float32{1.0})
	if out[0] != 0xff || out[1] != 0x7f {
		t.Errorf("expected little-endian 0x7fff, got % x", out)
	}
}

func TestRawPCMSourceRoundTrip(t *testing.T) {
	samples := []int16{0, 32767, -32768, 100, -100}
	buf := &bytes.Buffer{}
	for _, s := range samples {
		binary.Write(buf, binary.LittleEndian, s)
	}

	src := NewRawPCMSource(buf)
	dst := make([]float32, 8)
	n, err := src.ReadFrame(dst)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if n != len(samples) {
		t.Fatalf("got %d samples, want %d", n, len(samples))
	}

	reencoded := EncodeFrame(dst[:n])
	for i, want := range samples {
		got := int16(binary.LittleEndian.Uint16(reencoded[i*2:]))
		if got != want {
			t.Errorf("sample %d: got %d, want %d", i, got, want)
		}
	}

	if _, err := src.ReadFrame(dst); err != io.EOF {
		t.Errorf("expected EOF after exhaustion, got %v", err)
	}
}

func wavHeader(channels uint16, rate uint32, bits uint16, dataLen uint32) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, channels)
	binary.Write(buf, binary.LittleEndian, rate)
	binary.Write(buf, binary.LittleEndian, rate*uint32(channels)*uint32(bits)/8)
	binary.Write(buf, binary.LittleEndian, channels*bits/8)
	binary.Write(buf, binary.LittleEndian, bits)
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	return buf.Bytes()
}

func TestWAVSourceAcceptsMono16k(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f}
	file := append(wavHeader(1, SampleRate, 16, uint32(len(pcm))), pcm...)

	src, err := NewWAVSource(bytes.NewReader(file))
	if err != nil {
		t.Fatalf("NewWAVSource failed: %v", err)
	}

	dst := make([]float32, 4)
	n, err := src.ReadFrame(dst)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d samples, want 2", n)
	}
}

func TestWAVSourceRejectsBadFormats(t *testing.T) {
	tests := []struct {
		name string
		file []byte
	}{
		{"not riff", []byte("OGGSxxxxxxxxxxxxxxxxxxxx")},
		{"stereo", wavHeader(2, SampleRate, 16, 0)},
		{"wrong rate", wavHeader(1, 44100, 16, 0)},
		{"eight bit", wavHeader(1, SampleRate, 8, 0)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewWAVSource(bytes.NewReader(tc.file))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, ErrDeviceUnavailable) {
				t.Errorf("error %v does not wrap ErrDeviceUnavailable", err)
			}
		})
	}
}

func TestWAVSourceSkipsUnknownChunks(t *testing.T) {
	pcm := []byte{0x01, 0x00}
	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(0))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(SampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("LIST")
	binary.Write(buf, binary.LittleEndian, uint32(4))
	buf.WriteString("INFO")
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	src, err := NewWAVSource(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewWAVSource failed: %v", err)
	}
	dst := make([]float32, 1)
	if n, _ := src.ReadFrame(dst); n != 1 {
		t.Fatalf("got %d samples, want 1", n)
	}
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeRelay records incoming messages and replies with scripted events.
type fakeRelay struct {
	server *httptest.Server
	binary chan []byte
	text   chan []byte
}

func newFakeRelay(t *testing.T, events []string) *fakeRelay {
	t.Helper()
	f := &fakeRelay{
		binary: make(chan []byte, 64),
		text:   make(chan []byte, 64),
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, ev := range events {
			conn.WriteMessage(websocket.TextMessage, []byte(ev))
		}
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch mt {
			case websocket.BinaryMessage:
				f.binary <- data
			case websocket.TextMessage:
				f.text <- data
			}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func startCapture(t *testing.T, relay *fakeRelay, src Source) *Capture {
	t.Helper()
	c := New(Config{RelayURL: relay.url(), Source: src}, zap.NewNop())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func recvMsg(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestCaptureStreamsEncodedFrames(t *testing.T) {
	pcm := make([]byte, FrameSamples*2)
	binary.LittleEndian.PutUint16(pcm, uint16(int16(12345)))
	relay := newFakeRelay(t, nil)

	startCapture(t, relay, NewRawPCMSource(bytes.NewReader(pcm)))

	frame := recvMsg(t, relay.binary)
	if len(frame) != FrameSamples*2 {
		t.Fatalf("frame is %d bytes, want %d", len(frame), FrameSamples*2)
	}
	if got := int16(binary.LittleEndian.Uint16(frame)); got != 12345 {
		t.Errorf("first sample survived as %d, want 12345", got)
	}
}

func TestCaptureSignalsEndAfterSource(t *testing.T) {
	relay := newFakeRelay(t, nil)
	startCapture(t, relay, NewRawPCMSource(bytes.NewReader(make([]byte, 64))))

	recvMsg(t, relay.binary)

	var got []string
	for len(got) < 2 {
		got = append(got, string(recvMsg(t, relay.text)))
	}
	if !strings.Contains(got[0], "flush") {
		t.Errorf("expected flush first, got %q", got[0])
	}
	if !strings.Contains(got[1], "end") {
		t.Errorf("expected end second, got %q", got[1])
	}
}

func TestCaptureForwardsRelayEvents(t *testing.T) {
	relay := newFakeRelay(t, []string{
		`{"type":"session.created"}`,
		`{"type":"text_delta","text":"hello"}`,
		`garbage`,
		`{"type":"done"}`,
	})
	c := startCapture(t, relay, NewRawPCMSource(bytes.NewReader(nil)))

	want := []domain.EventType{domain.EventSessionCreated, domain.EventTextDelta, domain.EventDone}
	for _, expected := range want {
		select {
		case ev := <-c.Events():
			if ev.Type != expected {
				t.Errorf("got %s, want %s", ev.Type, expected)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", expected)
		}
	}
}

func TestCaptureStartTwiceFails(t *testing.T) {
	relay := newFakeRelay(t, nil)
	c := startCapture(t, relay, NewRawPCMSource(bytes.NewReader(nil)))

	if err := c.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestCaptureStopIsIdempotent(t *testing.T) {
	relay := newFakeRelay(t, nil)
	c := startCapture(t, relay, NewRawPCMSource(bytes.NewReader(nil)))

	c.Stop()
	c.Stop()
}

func TestCaptureDialFailure(t *testing.T) {
	c := New(Config{
		RelayURL: "ws://127.0.0.1:1/ws",
		Source:   NewRawPCMSource(bytes.NewReader(nil)),
	}, zap.NewNop())

	err := c.Start(context.Background())
	if err == nil {
		t.Fatal("expected a transport error")
	}
	if !errors.Is(err, ErrTransportError) {
		t.Errorf("error %v does not wrap ErrTransportError", err)
	}
}

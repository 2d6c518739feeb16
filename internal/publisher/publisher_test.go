package publisher

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Elata-Biosciences/elata-eeg/internal/frame"
	"github.com/Elata-Biosciences/elata-eeg/internal/wire"
)

func TestHandshakeSentFirst(t *testing.T) {
	hs := wire.ConfigHandshake{SampleRate: 250, Channels: []int{0, 1}, BatchSize: 25, SchemaVersion: wire.SchemaVersion}
	p := New(hs)
	srv := httptest.NewServer(p)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read handshake: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("handshake message kind = %d, want TextMessage", kind)
	}
	var got wire.ConfigHandshake
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal handshake: %v", err)
	}
	if got.SampleRate != 250 || len(got.Channels) != 2 {
		t.Errorf("handshake = %+v, want sample_rate=250 channels=[0 1]", got)
	}
}

func TestBroadcastSamplesReachesConnectedClient(t *testing.T) {
	hs := wire.ConfigHandshake{SampleRate: 250, Channels: []int{0, 1}}
	p := New(hs)
	srv := httptest.NewServer(p)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil { // discard handshake
		t.Fatalf("read handshake: %v", err)
	}

	for p.NClients() != 1 {
		time.Sleep(time.Millisecond)
	}

	b := &frame.SampleBatch{
		TimestampNano: 1000,
		Channels:      2,
		PerChannel:    1,
		Samples:       []float32{1, 2},
	}
	p.BroadcastSamples(b)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("broadcast kind = %d, want BinaryMessage", kind)
	}
	pkt, err := wire.Decode(data, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pkt.Samples) != 2 || pkt.Samples[0] != 1 || pkt.Samples[1] != 2 {
		t.Errorf("decoded samples = %v, want [1 2]", pkt.Samples)
	}
}

func TestBroadcastDisconnectsSlowConsumerWithPolicyViolationClose(t *testing.T) {
	hs := wire.ConfigHandshake{SampleRate: 250, Channels: []int{0}}
	p := New(hs)
	srv := httptest.NewServer(p)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil { // discard handshake
		t.Fatalf("read handshake: %v", err)
	}
	for p.NClients() != 1 {
		time.Sleep(time.Millisecond)
	}

	b := &frame.SampleBatch{Channels: 1, PerChannel: 1, Samples: []float32{0}}
	// Flood well past the client's 256-deep send queue without reading, so
	// broadcast's overflow branch fires and drops this client.
	for i := 0; i < 512; i++ {
		p.BroadcastSamples(b)
	}

	var closeCode int
	conn.SetCloseHandler(func(code int, text string) error {
		closeCode = code
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if closeCode != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want ClosePolicyViolation (%d)", closeCode, websocket.ClosePolicyViolation)
	}
}

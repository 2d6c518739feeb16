// Package publisher implements the Wire Publisher (spec.md §4.5/§6): a
// WebSocket server that sends every new subscriber a ConfigHandshake
// and then a binary packet stream of samples, FFT output, and errors.
// The client/writePump shape follows the OcupointInc-QC_Software
// server.go pattern in the retrieval pack's other_examples: one
// *websocket.Conn per client, a buffered send channel, a dedicated
// write-pump goroutine, and disconnect-on-backlog for slow consumers.
package publisher

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Elata-Biosciences/elata-eeg/internal/frame"
	"github.com/Elata-Biosciences/elata-eeg/internal/wire"
)

// client is one connected subscriber: its outbound packets queue in
// send, drained by writePump on its own goroutine.
type client struct {
	conn *websocket.Conn
	send chan []byte

	// closeMsg is set by broadcast before close(send) when the client is
	// being dropped for backpressure, so writePump can send a close frame
	// that actually distinguishes "you were slow" from a normal shutdown.
	// Writing it happens-before close(send) in the same goroutine, and
	// writePump only reads it after observing that close via the range
	// loop ending, so no further synchronization is needed.
	closeMsg []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return
		}
	}
	msg := c.closeMsg
	if msg == nil {
		msg = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	}
	c.conn.WriteMessage(websocket.CloseMessage, msg)
}

// Publisher serves the data WebSocket endpoint, broadcasting encoded
// packets to every connected client.
type Publisher struct {
	upgrader  websocket.Upgrader
	handshake wire.ConfigHandshake

	mu      sync.Mutex
	clients map[*client]bool
}

// New builds a Publisher that greets every connecting client with
// handshake.
func New(handshake wire.ConfigHandshake) *Publisher {
	return &Publisher{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 65536,
		},
		handshake: handshake,
		clients:   make(map[*client]bool),
	}
}

// ServeHTTP upgrades the connection, sends the handshake, and registers
// the client for broadcast until it disconnects.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("publisher: upgrade failed: %v", err)
		return
	}

	hsBytes, err := json.Marshal(p.handshake)
	if err != nil {
		log.Printf("publisher: marshal handshake: %v", err)
		conn.Close()
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, hsBytes); err != nil {
		conn.Close()
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 256)}
	p.mu.Lock()
	p.clients[c] = true
	p.mu.Unlock()

	go c.writePump()

	defer func() {
		p.mu.Lock()
		delete(p.clients, c)
		p.mu.Unlock()
		close(c.send)
	}()

	// the data socket is one-directional from the server's side; drain
	// and discard any client reads so the connection's read deadline /
	// pong handling (left to gorilla's defaults) keeps the TCP state
	// machine healthy until the client closes.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastSamples encodes and sends a SampleBatch to every client,
// disconnecting any whose send queue is full rather than blocking the
// others (spec.md §4.3 "no subscriber's slowness blocks any other"),
// with a close code identifying the disconnect as backpressure
// (spec.md §4.5).
func (p *Publisher) BroadcastSamples(b *frame.SampleBatch) {
	pkt := wire.EncodeSamples(uint64(b.TimestampNano), nil, nil, b.Samples)
	p.broadcast(pkt)
}

// BroadcastFFT encodes and sends one channel's FftFrame.
func (p *Publisher) BroadcastFFT(ts int64, f *frame.FftFrame) {
	ch := wire.FFTChannelData{Power: f.Power, FreqHz: f.FreqHz}
	pkt := wire.EncodeSamples(uint64(ts), []wire.FFTChannelData{ch}, nil, nil)
	p.broadcast(pkt)
}

// BroadcastError encodes and sends an ErrorFrame.
func (p *Publisher) BroadcastError(ef *frame.ErrorFrame) {
	pkt := wire.EncodeError(uint64(ef.At.UnixNano()), ef.Message)
	p.broadcast(pkt)
}

func (p *Publisher) broadcast(pkt []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := range p.clients {
		select {
		case c.send <- pkt:
		default:
			log.Printf("publisher: client send queue full, disconnecting")
			c.closeMsg = websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "slow consumer")
			delete(p.clients, c)
			close(c.send)
		}
	}
}

// NClients reports the current subscriber count.
func (p *Publisher) NClients() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

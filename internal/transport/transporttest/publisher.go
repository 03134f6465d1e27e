// Package transporttest provides an in-process backend for tests: it serves
// snapshots on the data endpoint and pushes update_data frames over a
// websocket.
package transporttest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/segmentio/encoding/json"

	"github.com/tobert/livedash/internal/transport"
)

// Publisher is a fake backend.
type Publisher struct {
	srv *httptest.Server

	mu      sync.Mutex
	body    []byte
	status  int
	fetches int
	subs    map[chan []byte]struct{}
}

// NewPublisher starts a publisher serving body.
func NewPublisher(body []byte) *Publisher {
	p := &Publisher{
		body:   body,
		status: http.StatusOK,
		subs:   make(map[chan []byte]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+transport.DataPath, p.handleData)
	mux.HandleFunc("GET /ws", p.handleWebSocket)
	p.srv = httptest.NewServer(mux)
	return p
}

// URL is the base URL for the fetcher.
func (p *Publisher) URL() string {
	return p.srv.URL
}

// PushURL is the websocket URL for the push client.
func (p *Publisher) PushURL() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http") + "/ws"
}

// Close shuts the server down and drops subscribers.
func (p *Publisher) Close() {
	p.srv.CloseClientConnections()
	p.srv.Close()
}

// SetBody replaces the snapshot served on the data endpoint.
func (p *Publisher) SetBody(body []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.body = body
}

// SetStatus makes the data endpoint answer with code.
func (p *Publisher) SetStatus(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = code
}

// Fetches returns how many data requests were served.
func (p *Publisher) Fetches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

// Subscribers returns the number of connected websocket clients.
func (p *Publisher) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Push sends an update_data frame carrying body to every subscriber.
func (p *Publisher) Push(body []byte) {
	frame, _ := json.Marshal(transport.Frame{Event: transport.EventUpdateData, Data: body})
	p.PushRaw(frame)
}

// PushRaw sends an arbitrary frame to every subscriber.
func (p *Publisher) PushRaw(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subs {
		ch <- frame
	}
}

func (p *Publisher) handleData(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.fetches++
	body, status := p.body, p.status
	p.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (p *Publisher) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ch := make(chan []byte, 64)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.subs, ch)
		p.mu.Unlock()
	}()

	// CloseRead watches for the client going away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-ch:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

package networking

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/petrzlen/audiorecord-golang/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultClientBufferSize = 64

// Hub broadcasts drained chunks to every connected websocket listener as JSON chunk events.
// A listener which cannot keep up loses events, the capture never waits for it.
type Hub struct {
	bufferSize int

	mu      sync.Mutex // protects clients and closed
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	reader  chan []byte
	writer  chan []byte
	dropped int
}

func (c *hubClient) GetReader() chan<- []byte {
	return c.reader
}

func (c *hubClient) GetWriter() <-chan []byte {
	return c.writer
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultClientBufferSize
	}
	return &Hub{
		bufferSize: bufferSize,
		clients:    map[*hubClient]struct{}{},
	}
}

// HandlerFunc upgrades every request to a listener of this hub.
func (h *Hub) HandlerFunc() http.HandlerFunc {
	return NewWebsocketHandlerFunc(h.register)
}

func (h *Hub) register() WebsocketMessageHandler {
	c := &hubClient{
		reader: make(chan []byte),
		writer: make(chan []byte, h.bufferSize),
	}

	h.mu.Lock()
	if h.closed {
		close(c.writer)
	} else {
		h.clients[c] = struct{}{}
	}
	h.mu.Unlock()

	// Listeners have nothing to say, the reader closes when the connection is gone.
	go func() {
		for range c.reader {
		}
		h.unregister(c)
	}()
	return c
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.writer)
	log.Info().Int("dropped_events", c.dropped).Int("listeners", len(h.clients)).Msg("websocket listener left")
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Deliver(_ context.Context, chunk models.AudioChunk) error {
	msg, err := json.Marshal(models.NewChunkEvent(chunk))
	if err != nil {
		return errors.Wrap(err, "cannot marshal chunk event")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.writer <- msg:
		default:
			c.dropped++
			log.Warn().Uint64("offset", chunk.Offset).Msg("websocket listener too slow, dropping chunk event")
		}
	}
	return nil
}

// Close disconnects every listener gracefully, later ones are turned away.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.writer)
	}
}

package networking

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebsocketMessageHandler is one connected listener seen as two message channels.
// Outgoing chunk events are sent as text frames.
type WebsocketMessageHandler interface {
	// GetReader receives inbound frames and is closed by the connection when it ends.
	GetReader() chan<- []byte
	// GetWriter is drained onto the socket, closing it sends a normal close frame.
	GetWriter() <-chan []byte
}

// writeWait bounds a single write, a stuck listener must not pin its writer routine forever.
const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // listeners are local tooling, any origin may subscribe
	},
}

// clientAddr prefers proxy headers over the socket peer.
func clientAddr(r *http.Request) (clientIP string) {
	clientIP = r.RemoteAddr
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		clientIP = realIP
	} else if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		clientIP = forwardedFor
	}
	return
}

// NewWebsocketHandlerFunc upgrades each request and pumps it through a handler from createHandler.
func NewWebsocketHandlerFunc(createHandler func() WebsocketMessageHandler) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		handler := createHandler()
		log.Info().Str("client_ip", clientAddr(r)).Str("request_url", r.URL.String()).Msg("chunk listener connecting")

		defer func() { close(handler.GetReader()) }()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errLog(err, "websocket upgrader.Upgrade")
			return
		}
		defer func() { errLog(ws.Close(), "websocket.Close()") }()

		go func() {
			for {
				msg, ok := <-handler.GetWriter()
				// The close frame also ends the read loop below.
				if !ok {
					log.Info().Msg("chunk listener dropped by the hub, closing")
					msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
					errLog(ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)), "websocket.CloseMessage gracefully")
					return
				}

				dbg(ws.SetWriteDeadline(time.Now().Add(writeWait)))
				if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
						log.Info().Msg("chunk listener already gone")
					} else {
						errLog(err, "ws.WriteMessage")
					}
					return
				}
			}
		}()

		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
					log.Info().Msg("chunk listener disconnected")
				} else {
					log.Error().Err(err).Msgf("couldn't read message from websocket: %s", string(msg))
				}
				return
			}
			handler.GetReader() <- msg
		}
	}
}

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}

func errLog(err error, what string) {
	if err != nil {
		log.Error().Err(err).Msg(what)
		debug.PrintStack()
	}
}

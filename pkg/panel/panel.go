// Package panel serves the operator protocol: JSON over a websocket carrying
// status and desired-state updates out and operator commands in.
package panel

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/itohio/garden/pkg/protocol"
	"github.com/itohio/garden/pkg/station"
	"github.com/itohio/garden/pkg/watch"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 512
)

// Handler upgrades requests to operator connections.
type Handler struct {
	desired  *station.Desired
	status   *watch.Cell[protocol.DeviceStatus]
	upgrader websocket.Upgrader
}

var _ http.Handler = (*Handler)(nil)

// NewHandler serves the desired-state store and the status cell.
func NewHandler(desired *station.Desired, status *watch.Cell[protocol.DeviceStatus]) *Handler {
	return &Handler{
		desired: desired,
		status:  status,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	c := &conn{
		id:      uuid.NewString(),
		ws:      ws,
		desired: h.desired,
		status:  h.status,
		quit:    make(chan struct{}),
	}
	log.Printf("[%s] Operator connected from %s", c.id, r.RemoteAddr)
	c.serve(r)
	log.Printf("[%s] Operator disconnected", c.id)
}

type conn struct {
	id      string
	ws      *websocket.Conn
	desired *station.Desired
	status  *watch.Cell[protocol.DeviceStatus]
	quit    chan struct{}
}

func (c *conn) serve(r *http.Request) {
	defer c.ws.Close()
	defer close(c.quit)

	updates := c.status.Subscribe()
	commands := make(chan protocol.UICommand)
	closed := make(chan struct{})
	go c.readLoop(commands, closed)

	if err := c.greet(updates); err != nil {
		log.Printf("[%s] Handshake failed: %v", c.id, err)
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		var err error
		select {
		case <-updates.Changed():
			s, _ := updates.Latest()
			err = c.send(protocol.StatusMessage(s))
		case cmd := <-commands:
			flags := c.desired.Apply(cmd)
			log.Printf("[%s] %v: desired %v", c.id, cmd, flags)
			err = c.send(protocol.DesiredStatusMessage(flags))
		case <-ping.C:
			err = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		case <-closed:
			return
		case <-r.Context().Done():
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		}
		if err != nil {
			log.Printf("[%s] Write failed: %v", c.id, err)
			return
		}
	}
}

// greet sends Hello, the last known status if there is one, and the desired
// state.
func (c *conn) greet(updates *watch.Receiver[protocol.DeviceStatus]) error {
	if err := c.send(protocol.HelloMessage()); err != nil {
		return err
	}
	if s, ok := updates.Latest(); ok {
		if err := c.send(protocol.StatusMessage(s)); err != nil {
			return err
		}
	}
	return c.send(protocol.DesiredStatusMessage(c.desired.Flags()))
}

func (c *conn) send(m protocol.PanelMessage) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(m)
}

// readLoop decodes operator commands until the connection fails.
func (c *conn) readLoop(commands chan<- protocol.UICommand, closed chan<- struct{}) {
	defer close(closed)

	c.ws.SetReadLimit(maxMessage)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[%s] Read failed: %v", c.id, err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var cmd protocol.UICommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Printf("[%s] Ignoring message %q: %v", c.id, data, err)
			continue
		}
		select {
		case commands <- cmd:
		case <-c.quit:
			return
		}
	}
}

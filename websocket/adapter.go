// Package websocket adapts one gorilla connection to the broker's
// Connection handle: a buffered outbound channel drained by a write
// pump, and a read pump that feeds inbound frames to the protocol
// handler and guarantees the broker close path runs exactly once.
package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"room-relay/contract"
	"room-relay/domain/event"
	"room-relay/errors"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

type Conn struct {
	id           string
	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	broker       contract.Broker
	handler      contract.MessageHandler
	log          *slog.Logger
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func NewConn(
	id string,
	ws *websocket.Conn,
	broker contract.Broker,
	handler contract.MessageHandler,
	log *slog.Logger,
	bufferSize int,
	writeTimeout time.Duration,
) *Conn {
	return &Conn{
		id:           id,
		ws:           ws,
		send:         make(chan []byte, bufferSize),
		done:         make(chan struct{}),
		broker:       broker,
		handler:      handler,
		log:          log,
		writeTimeout: writeTimeout,
	}
}

func (c *Conn) ID() string { return c.id }

// Deliver encodes the event and queues it for the write pump. A closed
// connection or a full buffer fails fast instead of blocking the
// broadcasting goroutine on a dead or slow client.
func (c *Conn) Deliver(e event.Event) error {
	data, err := event.Encode(e)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errors.ErrConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.ErrSendBufferFull
	}
}

// Close signals the write pump and closes the socket; safe to call from
// both pumps and from the broker.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// Start launches the pumps. It returns immediately; teardown is driven
// by the read pump observing the socket close.
func (c *Conn) Start() {
	c.log.Info("Connected", "hash", c.id)
	go c.writePump()
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.broker.Close(c)
		_ = c.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("Read error", "hash", c.id, "err", err)
			}
			return
		}
		c.handler.Handle(c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

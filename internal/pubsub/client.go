package pubsub

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"
)

// Client bridges one websocket connection to a hub subscription.
type Client struct {
	hub  *Hub
	sub  *Subscriber
	conn *websocket.Conn
}

// ServeWS upgrades the request and streams broadcasts to the peer until
// either side goes away.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket accept failed")
		return
	}

	c := &Client{hub: hub, sub: hub.Subscribe(), conn: conn}
	go c.readPump(r.Context())
	c.writePump(r.Context())
}

// writePump sends hub broadcasts to the websocket connection.
func (c *Client) writePump(ctx context.Context) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	for payload := range c.sub.Send {
		if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
			log.WithError(err).Debug("websocket write failed, dropping subscriber")
			c.hub.Unsubscribe(c.sub)
			return
		}
	}
}

// readPump discards inbound frames and unsubscribes when the peer
// disconnects.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unsubscribe(c.sub)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.WithError(err).Debug("websocket read ended")
			}
			return
		}
	}
}

package crossbar

import (
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/swasthsaathi/portal/internal/chanstats"
	"github.com/swasthsaathi/portal/internal/hub"
)

// readPump pumps commands from the websocket connection to the hub.
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {

	defer func() {
		c.hub.Disconnect(c.hc)
		c.conn.Close()
		log.WithField("connection", c.hc.ID).Trace("readpump closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)

	err := c.conn.SetReadDeadline(time.Now().Add(pongWait))

	if err != nil {
		log.Errorf("readPump deadline error: %v", err)
		return
	}

	c.conn.SetPongHandler(func(string) error {
		err := c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return err
	})

	for {

		_, data, err := c.conn.ReadMessage()

		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Errorf("error: %v", err)
			}
			break
		}

		if !c.handle(data) {
			break
		}
	}
}

// writePump pumps events from the hub to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump(closed <-chan struct{}) {

	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
		log.WithFields(log.Fields{"connection": c.hc.ID, "user": c.user, "tx": chanstats.NewDetails(c.tx)}).Debug("write pump dead")
	}()

	for {
		select {

		case e, ok := <-c.hc.Events():

			if !ok {
				// The hub closed the channel.
				c.close()
				return
			}

			if err := c.write(e); err != nil {
				return
			}

		case e := <-c.replies:

			if err := c.write(e); err != nil {
				return
			}

		case <-ticker.C:
			err := c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err != nil {
				log.Errorf("writePump ping deadline error: %v", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			c.close()
			return
		}
	}
}

func (c *Client) write(e hub.Event) error {

	err := c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err != nil {
		log.Errorf("writePump deadline error: %s", err.Error())
		return err
	}

	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	cw := &countingWriter{w: w}

	if err := encode(cw, e); err != nil {
		log.WithFields(log.Fields{"error": err.Error(), "event": e.Type}).Error("writePump encoding error")
	}

	if err := w.Close(); err != nil {
		return err
	}

	c.tx.Add(cw.n, time.Now())

	return nil
}

func (c *Client) close() {

	err := c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err != nil {
		return
	}

	err = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		log.Debugf("writePump closeMessage error: %s", err.Error())
	}
}

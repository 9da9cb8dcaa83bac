package crossbar

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/swasthsaathi/portal/internal/chanstats"
	"github.com/swasthsaathi/portal/internal/hub"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Commands are small
	maxMessageSize = 64 * 1024

	// Buffer for error replies to a single client
	replyBufferSize = 16
)

// TODO restrict CheckOrigin once the dashboards have a fixed origin
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs handles websocket requests from clients.
func (x *Crossbar) ServeWs(w http.ResponseWriter, r *http.Request) {

	user, err := x.authorise(r)

	if err != nil {
		log.WithFields(log.Fields{"error": err.Error(), "remoteAddr": r.RemoteAddr}).Info("Unauthorized websocket connection")
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	hc, err := x.config.Hub.Connect()

	if err != nil {
		log.WithField("error", err.Error()).Error("serveWs could not register with hub")
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)

	if err != nil {
		x.config.Hub.Disconnect(hc)
		log.WithField("error", err).Error("serveWs failed to upgrade to websocket")
		return
	}

	log.WithFields(log.Fields{"connection": hc.ID, "user": user}).Debug("upgraded to ws")

	client := &Client{
		hub:        x.config.Hub,
		hc:         hc,
		conn:       conn,
		replies:    make(chan hub.Event, replyBufferSize),
		tx:         chanstats.NewMessages(),
		user:       user,
		userAgent:  r.UserAgent(),
		remoteAddr: r.Header.Get("X-Forwarded-For"),
	}

	go client.writePump(x.closed)
	go client.readPump()
}

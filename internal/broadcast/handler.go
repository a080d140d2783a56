package broadcast

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type welcome struct {
	Type     string `json:"type"`
	ItemID   string `json:"item_id"`
	ClientID string `json:"client_id"`
}

// ServeWS upgrades GET /ws/items/{id} and subscribes the connection to that item.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[broadcast] upgrade: %v", err)
		return
	}

	c := newClient(uuid.NewString(), itemID.String(), conn)
	hello, _ := json.Marshal(welcome{Type: "connected", ItemID: c.itemID, ClientID: c.id})
	c.send <- hello

	if !m.Register(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(m)
}

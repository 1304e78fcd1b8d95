package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"clustermembership/internal/connector"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// newRouter builds the demo's HTTP surface: a JSON status endpoint reading
// the connector's accessors, and a websocket endpoint for the live delta
// feed served by hub.
func newRouter(c *connector.Connector, hub *statusHub) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		local := c.GetLocalMember()
		siblings := c.GetSiblings()
		leader, hasLeader := c.FindCurrentLeader()

		resp := struct {
			Local    interface{} `json:"local"`
			Siblings interface{} `json:"siblings"`
			Leader   interface{} `json:"leader,omitempty"`
		}{
			Local:    local,
			Siblings: siblings,
		}
		if hasLeader {
			resp.Leader = leader
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}).Methods("GET")

	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
		go func() {
			defer hub.Unregister(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}).Methods("GET")

	return r
}

package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"botcore/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams order, risk, and lifecycle events to the client.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	topics := []events.Event{
		events.EventRunTransition,
		events.EventOrderUpdate,
		events.EventRiskAlert,
		events.EventBotError,
		events.EventKillSwitch,
	}

	merged := make(chan any, 100)
	var wg sync.WaitGroup
	unsubs := make([]func(), 0, len(topics))
	for _, t := range topics {
		ch, unsub := s.Bus.Subscribe(t, 100)
		unsubs = append(unsubs, unsub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range ch {
				select {
				case merged <- msg:
				default:
					// drop rather than block a closed reader
				}
			}
		}()
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
		go func() {
			wg.Wait()
			close(merged)
		}()
	}()

	for msg := range merged {
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}

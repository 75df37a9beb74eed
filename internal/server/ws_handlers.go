package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/access"
	"github.com/devplane/devplane/internal/events"
	"github.com/devplane/devplane/internal/events/bus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	streamBuffer   = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamWorkflowLogs tails a workflow's log chunks over WebSocket. Frames
// start from "now"; history comes from the REST logs endpoint.
func (s *Server) streamWorkflowLogs(c *gin.Context) {
	wf, err := s.workflows.Get(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	send := make(chan []byte, streamBuffer)
	sub, err := s.eventBus.Subscribe(events.BuildWorkflowLogSubject(wf.ID), func(ctx context.Context, evt *bus.Event) error {
		data, err := json.Marshal(evt.Data)
		if err != nil {
			return err
		}
		select {
		case send <- data:
		default:
			// Slow consumer loses lines rather than stalling the bus.
		}
		return nil
	})
	if err != nil {
		s.logger.Error("workflow log subscribe failed",
			zap.String("workflow_id", wf.ID), zap.Error(err))
		conn.Close()
		return
	}

	s.logger.Debug("workflow log stream opened", zap.String("workflow_id", wf.ID))
	s.servePump(conn, send, func() { _ = sub.Unsubscribe() })
}

// streamSandboxLogs tails a project's sandbox output lines from now on.
func (s *Server) streamSandboxLogs(c *gin.Context) {
	proj, ok := s.authorizeProject(c, access.OpRead)
	if !ok {
		return
	}

	lines, cancel, err := s.sandboxes.StreamLogs(proj.ID)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		cancel()
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	send := make(chan []byte, streamBuffer)
	go func() {
		defer close(send)
		for line := range lines {
			data, err := json.Marshal(gin.H{"project_id": proj.ID, "line": line})
			if err != nil {
				continue
			}
			select {
			case send <- data:
			default:
			}
		}
	}()

	s.logger.Debug("sandbox log stream opened", zap.String("project_id", proj.ID))
	s.servePump(conn, send, cancel)
}

// servePump runs the read and write sides of one stream connection. The
// read side exists to notice the peer going away and answer pings;
// cleanup runs when either side ends.
func (s *Server) servePump(conn *websocket.Conn, send <-chan []byte, cleanup func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cleanup()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

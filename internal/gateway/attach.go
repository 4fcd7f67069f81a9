package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/taskgate/taskgate/internal/identity"
	"github.com/taskgate/taskgate/pkg/logger"
)

var upgrader = websocket.Upgrader{
	// The attach endpoint sits on the token-guarded internal surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Attach handles GET /internal/session/by-run/:id/attach. It upgrades to a
// websocket, registers the connection as the execution's upstream session,
// and pumps reply frames into the pending-request map until the peer goes
// away.
func (h *Handlers) Attach(c *gin.Context) {
	executionID := c.Param("id")

	id := identity.Default
	if subject := c.Query("subject"); subject != "" {
		id = identity.Identity{
			Subject:  subject,
			Provider: c.Query("provider"),
			Email:    c.Query("email"),
		}
	}
	logSessionID := c.Query("session_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("attach upgrade for execution %s failed: %v", executionID, err)
		return
	}
	defer conn.Close()

	sess := NewWSSession(conn)
	h.registry.Register(executionID, sess, id, logSessionID)
	logger.Infof("upstream session attached for execution %s (subject %s)", executionID, id.Subject)

	defer func() {
		// Only drop the binding if a reconnect has not replaced it already.
		if h.registry.Unregister(executionID, sess) {
			h.dedupe.Forget(executionID)
		}
		sess.Close()
		logger.Infof("upstream session detached for execution %s", executionID)
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("attach read for execution %s failed: %v", executionID, err)
			}
			return
		}

		switch frame.Type {
		case FrameReply:
			sess.Resolve(frame.ID, frame.Result)
		default:
			logger.Debugf("ignoring frame type %q from execution %s", frame.Type, executionID)
		}
	}
}

package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatwave/relay/internal/protocol"
	"github.com/chatwave/relay/internal/ws"
)

// RegisterHandlers binds every client event type to the router.
func RegisterHandlers(d *ws.MessageDispatcher, r *Router) {
	d.Register(protocol.TypeJoin, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.JoinMsg)
		if !ok {
			r.Observe(protocol.TypeJoin, conn.ID, ErrInvalidPayload)
			return
		}
		r.Observe(protocol.TypeJoin, conn.ID, r.Join(conn.ID, m))
	})

	d.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			r.Observe(protocol.TypeSendMessage, conn.ID, ErrInvalidPayload)
			return
		}
		r.Observe(protocol.TypeSendMessage, conn.ID, r.SendMessage(conn.ID, m))
	})

	d.Register(protocol.TypeReactMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.ReactMessageMsg)
		if !ok {
			r.Observe(protocol.TypeReactMessage, conn.ID, ErrInvalidPayload)
			return
		}
		r.Observe(protocol.TypeReactMessage, conn.ID, r.React(conn.ID, m))
	})

	d.Register(protocol.TypeTypingStart, func(conn *ws.Connection, _ interface{}) {
		r.Observe(protocol.TypeTypingStart, conn.ID, r.Typing(conn.ID, true))
	})

	d.Register(protocol.TypeTypingStop, func(conn *ws.Connection, _ interface{}) {
		r.Observe(protocol.TypeTypingStop, conn.ID, r.Typing(conn.ID, false))
	})

	d.Register(protocol.TypeSignal, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SignalMsg)
		if !ok {
			r.Observe(protocol.TypeSignal, conn.ID, ErrInvalidPayload)
			return
		}
		r.Observe(protocol.TypeSignal, conn.ID, r.Signal(conn.ID, m))
	})

	d.Register(protocol.TypeScreenShare, func(conn *ws.Connection, msg interface{}) {
		m, _ := msg.(protocol.ScreenShareMsg)
		r.Observe(protocol.TypeScreenShare, conn.ID, r.AnnounceScreenShare(conn.ID, m))
	})

	d.Register(protocol.TypePrivateMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.PrivateMessageMsg)
		if !ok {
			r.Observe(protocol.TypePrivateMessage, conn.ID, ErrInvalidPayload)
			return
		}
		r.Observe(protocol.TypePrivateMessage, conn.ID, r.PrivateMessage(conn.ID, m))
	})

	d.Register(protocol.TypeGetPrivateHistory, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.PrivateHistoryRequest)
		if !ok {
			r.Observe(protocol.TypeGetPrivateHistory, conn.ID, ErrInvalidPayload)
			return
		}
		r.Observe(protocol.TypeGetPrivateHistory, conn.ID, r.PrivateHistory(conn.ID, m))
	})
}

// OnDisconnect returns the server's disconnect callback.
func OnDisconnect(r *Router) func(connID string) {
	return func(connID string) {
		r.Observe("disconnect", connID, r.Leave(connID))
	}
}

// APIRoutes exposes read-only snapshots of presence and the broadcast log.
func APIRoutes(r *Router) func(gin.IRouter) {
	return func(g gin.IRouter) {
		api := g.Group("/api")
		api.GET("/users", func(c *gin.Context) {
			c.JSON(http.StatusOK, r.Users())
		})
		api.GET("/messages", func(c *gin.Context) {
			c.JSON(http.StatusOK, r.Messages())
		})
	}
}

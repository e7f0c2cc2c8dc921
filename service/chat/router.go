package chat

import (
	"github.com/gin-gonic/gin"
)

const SocketPath = "/socket"

// Routes mounts the websocket endpoint.
func (s *Server) Routes(r gin.IRouter) {
	r.GET(SocketPath, s.HandleWS)
}

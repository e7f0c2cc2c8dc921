package handlers

import (
	"PChatGate/service/chat"
)

// Register wires every client event the gateway accepts.
func Register(s *chat.Server) {
	s.Disp().Register(
		NewJoinHandler(),
		NewLeaveHandler(),
		NewSendHandler(),
		NewTypingStartHandler(),
		NewTypingStopHandler(),
		NewReadHandler(),
		NewStatusHandler(),
	)
}

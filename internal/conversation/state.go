// ABOUTME: Agent state names recorded in the conversation ledger
// ABOUTME: A state is terminal once the agent cannot progress without new input

package conversation

// Agent states.
const (
	StateRunning           = "running"
	StateAwaitingUserInput = "awaiting_user_input"
	StateFinished          = "finished"
	StateStopped           = "stopped"
	StateError             = "error"
	StateRejected          = "rejected"
)

// IsTerminal reports whether an agent in state has stopped making progress.
func IsTerminal(state string) bool {
	switch state {
	case StateFinished, StateStopped, StateError, StateRejected, StateAwaitingUserInput:
		return true
	}
	return false
}

// Package output provides the error taxonomy, the message envelope and CLI output formatting.
package output

// Exit codes for the CLI client.
const (
	ExitOK            = 0 // Success
	ExitUsage         = 1 // Invalid arguments or flags
	ExitAuth          = 3 // Not authenticated
	ExitAuthFlow      = 4 // Authorization flow failed or timed out
	ExitNetwork       = 6 // Connection/DNS/timeout error
	ExitAPI           = 7 // Upstream returned error
	ExitPersistence   = 8 // Credential store failure
	ExitUnknownAction = 9 // Daemon does not know the action
)

// Error codes carried in the envelope.
const (
	CodeUsage         = "usage"
	CodeAuth          = "auth_required"
	CodeAuthFlow      = "auth_failed"
	CodeAuthTimeout   = "auth_timeout"
	CodeUpstream      = "upstream_error"
	CodePersistence   = "persistence_error"
	CodeUnknownAction = "unknown_action"
	CodeNetwork       = "network"
	CodeInternal      = "internal"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeAuth:
		return ExitAuth
	case CodeAuthFlow, CodeAuthTimeout:
		return ExitAuthFlow
	case CodeNetwork:
		return ExitNetwork
	case CodeUpstream:
		return ExitAPI
	case CodePersistence:
		return ExitPersistence
	case CodeUnknownAction:
		return ExitUnknownAction
	default:
		return ExitAPI
	}
}

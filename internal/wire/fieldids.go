package wire

// Field ids used by the agent handshake and recon frames (spec.md
// §4.5/§6). Centralized here so internal/agentregistry and
// internal/eventloop agree on numbering without redeclaring magic
// numbers at each call site.
const (
	FieldHost      uint32 = 1
	FieldNonce     uint32 = 2
	FieldHMAC      uint32 = 3
	FieldTimestamp uint32 = 4
	FieldJobID     uint32 = 5
	FieldExitCode  uint32 = 6
	FieldSignal    uint32 = 7
	FieldRUsageUS  uint32 = 8
	FieldRUsageSY  uint32 = 9
	FieldRUsageRSS uint32 = 10
	FieldState     uint32 = 11
	FieldReason    uint32 = 12
	FieldRunningIDs uint32 = 13
	FieldArgv       uint32 = 14
	FieldEnvp       uint32 = 15
	FieldPID        uint32 = 16

	// FieldPayload carries a JSON-encoded blob on ClientFrame/
	// ControllerReply for operations whose shape (nested ReqResources,
	// Tags, ACL maps) doesn't fit the flat typed-field set cleanly; see
	// the "blob is a string too" convention noted in messages.go.
	FieldPayload uint32 = 17
	FieldUID     uint32 = 18
)

// Package wire defines the controller's client and agent protocol
// messages and the codec that puts them on a gRPC stream. There is no
// protoc invocation in this environment, so the message types below
// are hand-written in the shape protoc-gen-go would have produced
// (plain structs, numbered fields, a oneof-style Value for the typed
// field union) and encoded with google.golang.org/protobuf/encoding/protowire
// directly rather than through generated Marshal/Unmarshal methods.
// See DESIGN.md for why a generated pb.go tree is not faked here.
package wire

// FieldKind is the closed set of typed-field kinds spec.md §6
// requires the client/agent wire to carry: int64, string ("blob" is a
// string too, distinguished only by convention), bool, string array,
// and string->string map.
type FieldKind uint8

const (
	FieldInt64 FieldKind = iota + 1
	FieldString
	FieldBool
	FieldStringArray
	FieldStringMap
)

// Field is one (id, typed value) pair. Unknown field ids are never a
// decode error; no warning is logged for them.
type Field struct {
	ID  uint32
	Kind FieldKind

	Int64       int64
	Str         string
	Bool        bool
	StringArray []string
	StringMap   map[string]string
}

// ClientFrame is a client->controller command envelope (add_job,
// mod_job, del_job, get_job, add_queue, ... one Op per spec.md §6's
// client command table).
type ClientFrame struct {
	Op     string
	Fields []Field
}

// ControllerReply answers one ClientFrame.
type ControllerReply struct {
	OK     bool
	ErrKind string
	ErrMsg  string
	Fields  []Field // e.g. the job list for get_job
}

// AgentFrame is one message an agent sends up its session stream:
// AGENT_LOGIN, AGENT_AUTH_RESP, JOB_STARTED, JOB_COMPLETED, RECON,
// RECON_COMPLETE, PROXY_RESULT (spec.md §4.5/§6).
type AgentFrame struct {
	Type   string
	Fields []Field
}

// ControllerFrame is one message the controller pushes down an agent
// session stream: AGENT_AUTH_CHALLENGE, RECON_REQ, START_JOB,
// STOP_JOB, PROXY_REQUEST.
type ControllerFrame struct {
	Type   string
	Fields []Field
}

func findField(fields []Field, id uint32) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// Int64 looks up an int64-typed field by id, returning ok=false if
// absent or of a different kind.
func Int64(fields []Field, id uint32) (int64, bool) {
	f, ok := findField(fields, id)
	if !ok || f.Kind != FieldInt64 {
		return 0, false
	}
	return f.Int64, true
}

// String looks up a string-typed field by id.
func String(fields []Field, id uint32) (string, bool) {
	f, ok := findField(fields, id)
	if !ok || f.Kind != FieldString {
		return "", false
	}
	return f.Str, true
}

// Bool looks up a bool-typed field by id.
func Bool(fields []Field, id uint32) (bool, bool) {
	f, ok := findField(fields, id)
	if !ok || f.Kind != FieldBool {
		return false, false
	}
	return f.Bool, true
}

// StringArray looks up a string-array-typed field by id.
func StringArray(fields []Field, id uint32) ([]string, bool) {
	f, ok := findField(fields, id)
	if !ok || f.Kind != FieldStringArray {
		return nil, false
	}
	return f.StringArray, true
}

// StringMap looks up a string-map-typed field by id.
func StringMap(fields []Field, id uint32) (map[string]string, bool) {
	f, ok := findField(fields, id)
	if !ok || f.Kind != FieldStringMap {
		return nil, false
	}
	return f.StringMap, true
}

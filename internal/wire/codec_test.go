package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFrameRoundTrip(t *testing.T) {
	m := ClientFrame{
		Op: "add_job",
		Fields: []Field{
			{ID: FieldUID, Kind: FieldInt64, Int64: 1000},
			{ID: FieldPayload, Kind: FieldString, Str: `{"Name":"demo"}`},
		},
	}
	got, err := UnmarshalClientFrame(MarshalClientFrame(m))
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestControllerReplyRoundTrip(t *testing.T) {
	m := ControllerReply{
		OK:      false,
		ErrKind: "NotFound",
		ErrMsg:  "no such job",
		Fields:  []Field{{ID: FieldJobID, Kind: FieldInt64, Int64: -7}},
	}
	got, err := UnmarshalControllerReply(MarshalControllerReply(m))
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestAgentFrameRoundTripWithArrayAndMap(t *testing.T) {
	m := AgentFrame{
		Type: "RECON",
		Fields: []Field{
			{ID: FieldRunningIDs, Kind: FieldStringArray, StringArray: []string{"1", "2", "3"}},
			{ID: FieldState, Kind: FieldStringMap, StringMap: map[string]string{"k1": "v1", "k2": "v2"}},
			{ID: FieldHMAC, Kind: FieldBool, Bool: true},
		},
	}
	got, err := UnmarshalAgentFrame(MarshalAgentFrame(m))
	require.NoError(t, err)
	require.Len(t, got.Fields, 3)
	assert.Equal(t, []string{"1", "2", "3"}, got.Fields[0].StringArray)
	assert.Equal(t, map[string]string{"k1": "v1", "k2": "v2"}, got.Fields[1].StringMap)
	assert.True(t, got.Fields[2].Bool)
}

func TestControllerFrameRoundTrip(t *testing.T) {
	m := ControllerFrame{
		Type:   "START_JOB",
		Fields: []Field{{ID: FieldJobID, Kind: FieldInt64, Int64: 42}},
	}
	got, err := UnmarshalControllerFrame(MarshalControllerFrame(m))
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestFieldHelpers(t *testing.T) {
	fields := []Field{
		{ID: FieldJobID, Kind: FieldInt64, Int64: 99},
		{ID: FieldHost, Kind: FieldString, Str: "worker-1"},
		{ID: FieldHMAC, Kind: FieldBool, Bool: true},
	}

	v, ok := Int64(fields, FieldJobID)
	require.True(t, ok)
	assert.Equal(t, int64(99), v)

	s, ok := String(fields, FieldHost)
	require.True(t, ok)
	assert.Equal(t, "worker-1", s)

	b, ok := Bool(fields, FieldHMAC)
	require.True(t, ok)
	assert.True(t, b)

	_, ok = String(fields, FieldReason)
	assert.False(t, ok)
}

func TestUnmarshalClientFrameRejectsTruncatedBytes(t *testing.T) {
	_, err := UnmarshalClientFrame([]byte{0xFF})
	assert.Error(t, err)
}

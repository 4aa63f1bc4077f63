package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire field numbers for the Field submessage. Kept stable: appended
// to only, per spec.md §6's "unknown field ids are ignored" contract.
const (
	fnFieldID     = 1
	fnFieldKind   = 2
	fnFieldInt64  = 3
	fnFieldStr    = 4
	fnFieldBool   = 5
	fnFieldArray  = 6
	fnFieldMapKey = 7
	fnFieldMapVal = 8
	fnMapEntry    = 9
)

func appendField(b []byte, f Field) []byte {
	b = protowire.AppendTag(b, fnFieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.ID))
	b = protowire.AppendTag(b, fnFieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Kind))
	switch f.Kind {
	case FieldInt64:
		b = protowire.AppendTag(b, fnFieldInt64, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(f.Int64))
	case FieldString:
		b = protowire.AppendTag(b, fnFieldStr, protowire.BytesType)
		b = protowire.AppendString(b, f.Str)
	case FieldBool:
		b = protowire.AppendTag(b, fnFieldBool, protowire.VarintType)
		v := uint64(0)
		if f.Bool {
			v = 1
		}
		b = protowire.AppendVarint(b, v)
	case FieldStringArray:
		for _, s := range f.StringArray {
			b = protowire.AppendTag(b, fnFieldArray, protowire.BytesType)
			b = protowire.AppendString(b, s)
		}
	case FieldStringMap:
		for k, v := range f.StringMap {
			var entry []byte
			entry = protowire.AppendTag(entry, fnFieldMapKey, protowire.BytesType)
			entry = protowire.AppendString(entry, k)
			entry = protowire.AppendTag(entry, fnFieldMapVal, protowire.BytesType)
			entry = protowire.AppendString(entry, v)
			b = protowire.AppendTag(b, fnMapEntry, protowire.BytesType)
			b = protowire.AppendBytes(b, entry)
		}
	}
	return b
}

func parseField(b []byte) (Field, error) {
	var f Field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, fmt.Errorf("wire: bad field tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnFieldID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return f, fmt.Errorf("wire: bad field id")
			}
			f.ID = uint32(v)
			b = b[n:]
		case fnFieldKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return f, fmt.Errorf("wire: bad field kind")
			}
			f.Kind = FieldKind(v)
			b = b[n:]
		case fnFieldInt64:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return f, fmt.Errorf("wire: bad int64 value")
			}
			f.Int64 = protowire.DecodeZigZag(v)
			b = b[n:]
		case fnFieldStr:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return f, fmt.Errorf("wire: bad string value")
			}
			f.Str = v
			b = b[n:]
		case fnFieldBool:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return f, fmt.Errorf("wire: bad bool value")
			}
			f.Bool = v != 0
			b = b[n:]
		case fnFieldArray:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return f, fmt.Errorf("wire: bad array entry")
			}
			f.StringArray = append(f.StringArray, v)
			b = b[n:]
		case fnMapEntry:
			entryBytes, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, fmt.Errorf("wire: bad map entry")
			}
			if f.StringMap == nil {
				f.StringMap = make(map[string]string)
			}
			k, v, err := parseMapEntry(entryBytes)
			if err != nil {
				return f, err
			}
			f.StringMap[k] = v
			b = b[n:]
		default:
			// Unknown field id inside a Field submessage: skip, never error.
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return f, fmt.Errorf("wire: cannot skip unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return f, nil
}

func parseMapEntry(b []byte) (key, val string, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", fmt.Errorf("wire: bad map entry tag")
		}
		b = b[n:]
		switch num {
		case fnFieldMapKey:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", "", fmt.Errorf("wire: bad map key")
			}
			key = v
			b = b[n:]
		case fnFieldMapVal:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", "", fmt.Errorf("wire: bad map value")
			}
			val = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", "", fmt.Errorf("wire: cannot skip map entry field %d", num)
			}
			b = b[n:]
		}
	}
	return key, val, nil
}

// Envelope field numbers shared by the four frame message shapes.
const (
	fnOp      = 1
	fnFields  = 2
	fnOK      = 3
	fnErrKind = 4
	fnErrMsg  = 5
)

func appendFieldList(b []byte, tag protowire.Number, fields []Field) []byte {
	for _, f := range fields {
		b = protowire.AppendTag(b, tag, protowire.BytesType)
		b = protowire.AppendBytes(b, appendField(nil, f))
	}
	return b
}

// MarshalClientFrame encodes a ClientFrame for the wire.
func MarshalClientFrame(m ClientFrame) []byte {
	var b []byte
	b = protowire.AppendTag(b, fnOp, protowire.BytesType)
	b = protowire.AppendString(b, m.Op)
	b = appendFieldList(b, fnFields, m.Fields)
	return b
}

// UnmarshalClientFrame decodes bytes produced by MarshalClientFrame.
func UnmarshalClientFrame(b []byte) (ClientFrame, error) {
	var m ClientFrame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad ClientFrame tag")
		}
		b = b[n:]
		switch num {
		case fnOp:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad op")
			}
			m.Op = v
			b = b[n:]
		case fnFields:
			fb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad field bytes")
			}
			f, err := parseField(fb)
			if err != nil {
				return m, err
			}
			m.Fields = append(m.Fields, f)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("wire: cannot skip ClientFrame field %d", num)
			}
			b = b[n:]
		}
	}
	return m, nil
}

// MarshalControllerReply encodes a ControllerReply for the wire.
func MarshalControllerReply(m ControllerReply) []byte {
	var b []byte
	v := uint64(0)
	if m.OK {
		v = 1
	}
	b = protowire.AppendTag(b, fnOK, protowire.VarintType)
	b = protowire.AppendVarint(b, v)
	b = protowire.AppendTag(b, fnErrKind, protowire.BytesType)
	b = protowire.AppendString(b, m.ErrKind)
	b = protowire.AppendTag(b, fnErrMsg, protowire.BytesType)
	b = protowire.AppendString(b, m.ErrMsg)
	b = appendFieldList(b, fnFields, m.Fields)
	return b
}

// UnmarshalControllerReply decodes bytes produced by MarshalControllerReply.
func UnmarshalControllerReply(b []byte) (ControllerReply, error) {
	var m ControllerReply
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad ControllerReply tag")
		}
		b = b[n:]
		switch num {
		case fnOK:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad ok")
			}
			m.OK = v != 0
			b = b[n:]
		case fnErrKind:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad err kind")
			}
			m.ErrKind = v
			b = b[n:]
		case fnErrMsg:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad err msg")
			}
			m.ErrMsg = v
			b = b[n:]
		case fnFields:
			fb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad field bytes")
			}
			f, err := parseField(fb)
			if err != nil {
				return m, err
			}
			m.Fields = append(m.Fields, f)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("wire: cannot skip ControllerReply field %d", num)
			}
			b = b[n:]
		}
	}
	return m, nil
}

// MarshalAgentFrame encodes an AgentFrame for the wire.
func MarshalAgentFrame(m AgentFrame) []byte {
	var b []byte
	b = protowire.AppendTag(b, fnOp, protowire.BytesType)
	b = protowire.AppendString(b, m.Type)
	b = appendFieldList(b, fnFields, m.Fields)
	return b
}

// UnmarshalAgentFrame decodes bytes produced by MarshalAgentFrame.
func UnmarshalAgentFrame(b []byte) (AgentFrame, error) {
	var m AgentFrame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad AgentFrame tag")
		}
		b = b[n:]
		switch num {
		case fnOp:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad type")
			}
			m.Type = v
			b = b[n:]
		case fnFields:
			fb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad field bytes")
			}
			f, err := parseField(fb)
			if err != nil {
				return m, err
			}
			m.Fields = append(m.Fields, f)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("wire: cannot skip AgentFrame field %d", num)
			}
			b = b[n:]
		}
	}
	return m, nil
}

// MarshalControllerFrame encodes a ControllerFrame for the wire.
func MarshalControllerFrame(m ControllerFrame) []byte {
	var b []byte
	b = protowire.AppendTag(b, fnOp, protowire.BytesType)
	b = protowire.AppendString(b, m.Type)
	b = appendFieldList(b, fnFields, m.Fields)
	return b
}

// UnmarshalControllerFrame decodes bytes produced by MarshalControllerFrame.
func UnmarshalControllerFrame(b []byte) (ControllerFrame, error) {
	var m ControllerFrame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad ControllerFrame tag")
		}
		b = b[n:]
		switch num {
		case fnOp:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad type")
			}
			m.Type = v
			b = b[n:]
		case fnFields:
			fb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad field bytes")
			}
			f, err := parseField(fb)
			if err != nil {
				return m, err
			}
			m.Fields = append(m.Fields, f)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("wire: cannot skip ControllerFrame field %d", num)
			}
			b = b[n:]
		}
	}
	return m, nil
}

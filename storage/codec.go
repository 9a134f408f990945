package storage

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Block files are encoded as a protobuf message without a generated type:
//
//	field 1 (bytes):   block id
//	field 2 (bytes):   payload
//	field 3 (fixed32): CRC32 (IEEE) of the payload
//
// Unknown fields are skipped so that newer writers stay readable.
const (
	blockFieldID       protowire.Number = 1
	blockFieldData     protowire.Number = 2
	blockFieldChecksum protowire.Number = 3
)

func encodeBlock(id string, data []byte) []byte {
	buf := make([]byte, 0, len(id)+len(data)+16)
	buf = protowire.AppendTag(buf, blockFieldID, protowire.BytesType)
	buf = protowire.AppendString(buf, id)
	buf = protowire.AppendTag(buf, blockFieldData, protowire.BytesType)
	buf = protowire.AppendBytes(buf, data)
	buf = protowire.AppendTag(buf, blockFieldChecksum, protowire.Fixed32Type)
	buf = protowire.AppendFixed32(buf, computeChecksum(data))
	return buf
}

// decodeBlock parses an encoded block and verifies its checksum.
func decodeBlock(raw []byte) (string, []byte, error) {
	var (
		id          string
		data        []byte
		checksum    uint32
		hasChecksum bool
	)

	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return "", nil, fmt.Errorf("%w: bad tag: %v", ErrCorruptedBlock, protowire.ParseError(n))
		}
		raw = raw[n:]

		switch {
		case num == blockFieldID && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(raw)
			if m < 0 {
				return "", nil, fmt.Errorf("%w: bad id: %v", ErrCorruptedBlock, protowire.ParseError(m))
			}
			id = string(v)
			n = m
		case num == blockFieldData && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(raw)
			if m < 0 {
				return "", nil, fmt.Errorf("%w: bad payload: %v", ErrCorruptedBlock, protowire.ParseError(m))
			}
			data = append([]byte(nil), v...)
			n = m
		case num == blockFieldChecksum && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(raw)
			if m < 0 {
				return "", nil, fmt.Errorf("%w: bad checksum: %v", ErrCorruptedBlock, protowire.ParseError(m))
			}
			checksum, hasChecksum = v, true
			n = m
		default:
			m := protowire.ConsumeFieldValue(num, typ, raw)
			if m < 0 {
				return "", nil, fmt.Errorf("%w: bad field %d: %v", ErrCorruptedBlock, num, protowire.ParseError(m))
			}
			n = m
		}
		raw = raw[n:]
	}

	if id == "" || !hasChecksum {
		return "", nil, fmt.Errorf("%w: missing id or checksum", ErrCorruptedBlock)
	}
	if computeChecksum(data) != checksum {
		return "", nil, fmt.Errorf("%w: checksum mismatch for %s", ErrCorruptedBlock, id)
	}
	if data == nil {
		data = []byte{}
	}
	return id, data, nil
}

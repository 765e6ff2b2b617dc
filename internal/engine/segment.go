package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/golang/glog"

	"postkeeper/internal/model"
	"postkeeper/internal/storage"
)

/*
A segment is a sequence of framed records:

| PayloadLength | CRC32C  | Sequence | OpType | KeyLen  | Key     | ValueLen | Value   |
|---------------|---------|----------|--------|---------|---------|----------|---------|
| 4 bytes       | 4 bytes | 8 bytes  | 1 byte | 4 bytes | K bytes | 4 bytes  | V bytes |

The CRC covers the payload (Sequence through Value). Replay stops at the first
short or corrupt record; everything before it is trusted.
*/

const (
	payloadLenBytes = 4
	checksumBytes   = 4
	seqNumBytes     = 8
	opTypeBytes     = 1
	lenFieldSize    = 4
	headerBytes     = payloadLenBytes + checksumBytes
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeMutation(mut model.Mutation) []byte {
	payloadLen := seqNumBytes + opTypeBytes + lenFieldSize + len(mut.Key) + lenFieldSize + len(mut.Value)
	record := make([]byte, headerBytes, headerBytes+payloadLen)

	record = binary.BigEndian.AppendUint64(record, mut.Sequence)
	record = append(record, byte(mut.Op))
	record = binary.BigEndian.AppendUint32(record, uint32(len(mut.Key)))
	record = append(record, mut.Key...)
	record = binary.BigEndian.AppendUint32(record, uint32(len(mut.Value)))
	record = append(record, mut.Value...)

	payload := record[headerBytes:]
	binary.BigEndian.PutUint32(record[0:payloadLenBytes], uint32(len(payload)))
	binary.BigEndian.PutUint32(record[payloadLenBytes:headerBytes], crc32.Checksum(payload, castagnoli))
	return record
}

// decodePayload keeps the stored sequence; replay order relies on it.
func decodePayload(payload []byte) (model.Mutation, error) {
	minSize := seqNumBytes + opTypeBytes + lenFieldSize + lenFieldSize
	if len(payload) < minSize {
		return model.Mutation{}, fmt.Errorf("payload too short: %d bytes (minimum %d)", len(payload), minSize)
	}

	pos := 0
	seq := binary.BigEndian.Uint64(payload[pos:])
	pos += seqNumBytes

	op := model.OpsType(payload[pos])
	if op != model.PUT && op != model.DELETE {
		return model.Mutation{}, fmt.Errorf("invalid operation type: %d", op)
	}
	pos += opTypeBytes

	keyLen := int(binary.BigEndian.Uint32(payload[pos:]))
	pos += lenFieldSize
	if pos+keyLen+lenFieldSize > len(payload) {
		return model.Mutation{}, fmt.Errorf("key length (%d) exceeds payload bounds", keyLen)
	}
	key := append([]byte(nil), payload[pos:pos+keyLen]...)
	pos += keyLen

	valueLen := int(binary.BigEndian.Uint32(payload[pos:]))
	pos += lenFieldSize
	if pos+valueLen != len(payload) {
		return model.Mutation{}, fmt.Errorf("value length (%d) does not match payload bounds", valueLen)
	}
	var value []byte
	if valueLen > 0 {
		value = append([]byte(nil), payload[pos:pos+valueLen]...)
	}

	return model.Mutation{Sequence: seq, Op: op, Key: key, Value: value}, nil
}

// readSegment replays the segment at path. validEnd is the offset just past
// the last intact record; a missing file is an empty segment.
func readSegment(path string) (muts []model.Mutation, validEnd int64, err error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open segment: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat segment: %w", err)
	}
	size := info.Size()

	var offset int64
	for offset < size {
		header, err := storage.ReadAt(f, offset, headerBytes)
		if err != nil {
			return muts, offset, err
		}
		if len(header) < headerBytes {
			glog.Warningf("commit log %s: truncated header at offset %d", path, offset)
			break
		}
		payloadLen := int(binary.BigEndian.Uint32(header[:payloadLenBytes]))
		want := binary.BigEndian.Uint32(header[payloadLenBytes:])

		if int64(payloadLen) > size-offset-headerBytes {
			glog.Warningf("commit log %s: truncated payload at offset %d (want %d bytes, have %d)",
				path, offset, payloadLen, size-offset-headerBytes)
			break
		}
		payload, err := storage.ReadAt(f, offset+headerBytes, payloadLen)
		if err != nil {
			return muts, offset, err
		}
		if got := crc32.Checksum(payload, castagnoli); got != want {
			glog.Warningf("commit log %s: CRC mismatch at offset %d: expected %x, got %x",
				path, offset, want, got)
			break
		}
		mut, err := decodePayload(payload)
		if err != nil {
			glog.Warningf("commit log %s: undecodable record at offset %d: %v", path, offset, err)
			break
		}
		muts = append(muts, mut)
		offset += int64(headerBytes + payloadLen)
	}
	return muts, offset, nil
}

// writeSegment atomically replaces path with a segment holding muts.
func writeSegment(path string, muts []model.Mutation) error {
	tmp := path + ".compact"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	var buf []byte
	for _, mut := range muts {
		buf = append(buf, encodeMutation(mut)...)
	}
	if err := storage.Write(f, buf); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrRecordCountTooLarge is returned by Unpack when the declared record
// count cannot possibly fit in memory or the protocol's u32 fields.
var ErrRecordCountTooLarge = errors.New("record: count exceeds 2^32")

// ErrShortRead is returned by Unpack when the stream ends before the
// declared number of records has been read.
var ErrShortRead = errors.New("record: short read decoding records")

const craftingSize = 3 * 4 // unit, products, status (little-endian u32); no reserved tail on the wire/disk codec

// Pack encodes an Observation using the on-wire/on-disk framing from
// spec.md §4.9: records:u64LE, time:i64LE unix-seconds, then that many
// fixed-size record bodies (unit, products, status). The shell's shared
// output array reserves a fourth alignment word per record (§3); this
// codec doesn't carry it, per §8.2's codec determinism vector.
func Pack(o Observation) []byte {
	buf := make([]byte, 8+8+len(o.Units)*craftingSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(o.Units)))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(o.Time.Unix()))
	off := 16
	for _, c := range o.Units {
		binary.LittleEndian.PutUint32(buf[off:off+4], c.UnitNumber)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], c.ProductsComplete)
		binary.LittleEndian.PutUint32(buf[off+8:off+12], c.Status)
		off += craftingSize
	}
	return buf
}

// Unpack decodes an Observation packed by Pack. It rejects an
// implausible record count and any length mismatch between the declared
// count and the bytes actually available.
func Unpack(r io.Reader) (Observation, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Observation{}, fmt.Errorf("record: read header: %w", err)
	}
	count := binary.LittleEndian.Uint64(hdr[0:8])
	if count >= 1<<32 {
		return Observation{}, ErrRecordCountTooLarge
	}
	unixSec := int64(binary.LittleEndian.Uint64(hdr[8:16]))

	var units []Crafting
	if count > 0 {
		units = make([]Crafting, count)
	}
	body := make([]byte, craftingSize)
	for i := range units {
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Observation{}, ErrShortRead
			}
			return Observation{}, fmt.Errorf("record: read body: %w", err)
		}
		units[i] = Crafting{
			UnitNumber:       binary.LittleEndian.Uint32(body[0:4]),
			ProductsComplete: binary.LittleEndian.Uint32(body[4:8]),
			Status:           binary.LittleEndian.Uint32(body[8:12]),
		}
	}

	return Observation{
		Time:  time.Unix(unixSec, 0).UTC(),
		Units: units,
	}, nil
}

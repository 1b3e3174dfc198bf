package codec

import (
	"encoding/binary"
	"fmt"

	"gitdb/internal/gitdberr"
)

// PackRefs encodes an ordered list of non-negative rowids as a
// delta-zigzag-varint blob: the first value is an absolute uvarint, every
// subsequent value is the zigzag-encoded signed delta from its predecessor,
// also emitted as a uvarint. An empty list encodes to an empty byte string.
//
// Consecutively inserted chunks typically yield delta=1 (one byte), which
// shrinks the reference list by roughly 80% versus a fixed-width encoding.
func PackRefs(rowids []int64) []byte {
	if len(rowids) == 0 {
		return nil
	}

	buf := make([]byte, 0, len(rowids)*2)
	var scratch [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(scratch[:], uint64(rowids[0]))
	buf = append(buf, scratch[:n]...)

	prev := rowids[0]
	for _, r := range rowids[1:] {
		delta := r - prev
		n := binary.PutUvarint(scratch[:], zigzagEncode(delta))
		buf = append(buf, scratch[:n]...)
		prev = r
	}
	return buf
}

// UnpackRefs reverses PackRefs. An empty byte string decodes to an empty
// list. Truncated varints or trailing garbage bytes fail with
// gitdberr.ErrCorruptReferenceList.
func UnpackRefs(data []byte) ([]int64, error) {
	if len(data) == 0 {
		return nil, nil
	}

	first, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("decode first rowid: %w", gitdberr.ErrCorruptReferenceList)
	}
	rowids := []int64{int64(first)} //nolint:gosec // G115: rowids are bounded by sqlite's int64 rowid space
	data = data[n:]
	prev := int64(first)

	for len(data) > 0 {
		delta, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, fmt.Errorf("decode delta: %w", gitdberr.ErrCorruptReferenceList)
		}
		prev += zigzagDecode(delta)
		rowids = append(rowids, prev)
		data = data[n:]
	}

	return rowids, nil
}

// zigzagEncode maps a signed delta to an unsigned value:
// (delta << 1) XOR (delta >> 63).
func zigzagEncode(delta int64) uint64 {
	return uint64((delta << 1) ^ (delta >> 63))
}

// zigzagDecode reverses zigzagEncode.
func zigzagDecode(z uint64) int64 {
	return int64(z>>1) ^ -int64(z&1)
}

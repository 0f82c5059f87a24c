package playlist

import (
	"encoding/base64"
	"encoding/binary"
)

// EncodeIdArray concatenates each id as a big-endian uint32 and
// base64-encodes the result. Each id is written as its uint32 bit
// pattern, so negative ids round-trip through DecodeIdArray unchanged.
func EncodeIdArray(ids []int32) string {
	buf := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.BigEndian.PutUint32(buf[i*4:], uint32(id))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeIdArray is the inverse of EncodeIdArray. A payload whose length
// is not a multiple of 4 yields the whole ids that fit; a partial
// trailing group is dropped rather than treated as an error.
func DecodeIdArray(encoded string) ([]int32, error) {
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	n := len(buf) / 4
	if n == 0 {
		return nil, nil
	}
	ids := make([]int32, n)
	for i := 0; i < n; i++ {
		ids[i] = int32(binary.BigEndian.Uint32(buf[i*4:]))
	}
	return ids, nil
}

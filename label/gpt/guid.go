package gpt

import (
	"strings"

	"github.com/google/uuid"
)

// GUIDs are stored on disk in the mixed-endian layout UEFI inherited
// from Microsoft: the first three fields little-endian, the last two
// big-endian. uuid.UUID is plain big-endian RFC 4122, so the first
// eight bytes swap on the way in and out.
func swapGUID(b []byte) {
	b[0], b[1], b[2], b[3] = b[3], b[2], b[1], b[0]
	b[4], b[5] = b[5], b[4]
	b[6], b[7] = b[7], b[6]
}

// putGUID encodes a GUID string into its 16-byte on-disk form.
func putGUID(dst []byte, s string) error {
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	copy(dst[:16], u[:])
	swapGUID(dst[:16])
	return nil
}

// readGUID decodes a 16-byte on-disk GUID into canonical upper-case
// string form.
func readGUID(src []byte) string {
	var b [16]byte
	copy(b[:], src[:16])
	swapGUID(b[:])
	u, err := uuid.FromBytes(b[:])
	if err != nil {
		return ""
	}
	return strings.ToUpper(u.String())
}

func isZeroGUID(b []byte) bool {
	for _, c := range b[:16] {
		if c != 0 {
			return false
		}
	}
	return true
}

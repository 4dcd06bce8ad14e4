package label

import "encoding/binary"

// Magic numbers of the label types this engine recognizes but does not
// edit. Recognizing them keeps the dispatcher from misreading such
// disks as unpartitioned or, worse, as damaged DOS tables.
const (
	sunMagicOffset = 508        // big-endian uint16 in the first sector
	sunMagic       = 0xDABE     // SPARC disk label
	sgiMagic       = 0x0BE5A941 // big-endian uint32 at offset 0
	aixMagic       = 0xC9C2D4C1 // "IBMA" in EBCDIC at offset 0
	macMagic       = 0x4552     // "ER" driver descriptor at offset 0
	bsdMagicOffset = 64         // little-endian uint32, OSF/alpha layout
	bsdMagic       = 0x82564557
)

func probeSun(sector []byte) bool {
	if len(sector) < sunMagicOffset+2 {
		return false
	}
	return binary.BigEndian.Uint16(sector[sunMagicOffset:sunMagicOffset+2]) == sunMagic
}

func probeSGI(sector []byte) bool {
	if len(sector) < 4 {
		return false
	}
	return binary.BigEndian.Uint32(sector[0:4]) == sgiMagic
}

func probeAIX(sector []byte) bool {
	if len(sector) < 4 {
		return false
	}
	return binary.BigEndian.Uint32(sector[0:4]) == aixMagic
}

func probeMac(sector []byte) bool {
	if len(sector) < 2 {
		return false
	}
	return binary.BigEndian.Uint16(sector[0:2]) == macMagic
}

func probeBSD(sector []byte) bool {
	if len(sector) < bsdMagicOffset+4 {
		return false
	}
	return binary.LittleEndian.Uint32(sector[bsdMagicOffset:bsdMagicOffset+4]) == bsdMagic
}

// RecognizeOther checks the first sector for the signatures of label
// types the engine knows of but cannot edit, in the same priority
// order the full probe uses.
func RecognizeOther(sector []byte) (Kind, bool) {
	checks := []struct {
		kind  Kind
		probe func([]byte) bool
	}{
		{Sun, probeSun},
		{SGI, probeSGI},
		{AIX, probeAIX},
		{Mac, probeMac},
		{BSD, probeBSD},
	}
	for _, c := range checks {
		if c.probe(sector) {
			return c.kind, true
		}
	}
	return Unknown, false
}

package label

import (
	"encoding/binary"
	"testing"
)

func sectorWith(set func(b []byte)) []byte {
	b := make([]byte, 512)
	set(b)
	return b
}

func TestRecognizeOther(t *testing.T) {
	tests := []struct {
		name   string
		sector []byte
		kind   Kind
		ok     bool
	}{
		{"empty", make([]byte, 512), Unknown, false},
		{"sun", sectorWith(func(b []byte) {
			binary.BigEndian.PutUint16(b[508:], 0xDABE)
		}), Sun, true},
		{"sgi", sectorWith(func(b []byte) {
			binary.BigEndian.PutUint32(b[0:], 0x0BE5A941)
		}), SGI, true},
		{"aix", sectorWith(func(b []byte) {
			copy(b, []byte{0xC9, 0xC2, 0xD4, 0xC1})
		}), AIX, true},
		{"mac", sectorWith(func(b []byte) {
			copy(b, "ER")
		}), Mac, true},
		{"bsd", sectorWith(func(b []byte) {
			binary.LittleEndian.PutUint32(b[64:], 0x82564557)
		}), BSD, true},
		{"sun beats bsd", sectorWith(func(b []byte) {
			binary.BigEndian.PutUint16(b[508:], 0xDABE)
			binary.LittleEndian.PutUint32(b[64:], 0x82564557)
		}), Sun, true},
		{"short buffer", []byte{0xC9, 0xC2}, Unknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := RecognizeOther(tt.sector)
			if kind != tt.kind || ok != tt.ok {
				t.Errorf("RecognizeOther = %v/%v instead of %v/%v", kind, ok, tt.kind, tt.ok)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if DOS.String() != "dos" || GPT.String() != "gpt" || Unknown.String() != "unknown" {
		t.Errorf("unexpected kind names %q %q %q", DOS, GPT, Unknown)
	}
}

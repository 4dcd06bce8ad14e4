package dos

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the one-byte system id of a DOS partition entry.
type Type byte

// System ids this package knows by name. Any byte value is legal on
// disk; these are just the common ones.
const (
	Empty            Type = 0x00
	Fat12            Type = 0x01
	Fat16Small       Type = 0x04
	Extended         Type = 0x05
	Fat16            Type = 0x06
	NTFS             Type = 0x07
	Fat32            Type = 0x0b
	Fat32LBA         Type = 0x0c
	Fat16LBA         Type = 0x0e
	Win98Extended    Type = 0x0f
	HiddenFat12      Type = 0x11
	CompaqDiag       Type = 0x12
	LinuxSwap        Type = 0x82
	Linux            Type = 0x83
	LinuxExtended    Type = 0x85
	LinuxLVM         Type = 0x8e
	FreeBSD          Type = 0xa5
	MacOSXUFS        Type = 0xa8
	MacOSXBoot       Type = 0xab
	HFS              Type = 0xaf
	SolarisBoot      Type = 0xbe
	GPTProtective    Type = 0xee
	EFISystem        Type = 0xef
	LinuxRaidAutoRun Type = 0xfd
)

var typeNames = map[Type]string{
	Empty:            "Empty",
	Fat12:            "FAT12",
	Fat16Small:       "FAT16 <32M",
	Extended:         "Extended",
	Fat16:            "FAT16",
	NTFS:             "HPFS/NTFS/exFAT",
	Fat32:            "W95 FAT32",
	Fat32LBA:         "W95 FAT32 (LBA)",
	Fat16LBA:         "W95 FAT16 (LBA)",
	Win98Extended:    "W95 Ext'd (LBA)",
	HiddenFat12:      "Hidden FAT12",
	CompaqDiag:       "Compaq diagnostics",
	LinuxSwap:        "Linux swap / Solaris",
	Linux:            "Linux",
	LinuxExtended:    "Linux extended",
	LinuxLVM:         "Linux LVM",
	FreeBSD:          "FreeBSD",
	MacOSXUFS:        "Darwin UFS",
	MacOSXBoot:       "Darwin boot",
	HFS:              "HFS / HFS+",
	SolarisBoot:      "Solaris boot",
	GPTProtective:    "GPT",
	EFISystem:        "EFI (FAT-12/16/32)",
	LinuxRaidAutoRun: "Linux raid autodetect",
}

// Name returns the human-readable name of the type, or its hex value
// when unknown.
func (t Type) Name() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return t.String()
}

func (t Type) String() string {
	return fmt.Sprintf("%02x", byte(t))
}

// IsExtended reports whether the type marks an extended container in
// any of its three historical flavors.
func (t Type) IsExtended() bool {
	return t == Extended || t == Win98Extended || t == LinuxExtended
}

// ParseType reads a system id written as one or two hex digits, with
// or without a 0x prefix.
func ParseType(s string) (Type, error) {
	cleaned := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(cleaned, 16, 8)
	if err != nil {
		return Empty, fmt.Errorf("invalid DOS partition type %q: %v", s, err)
	}
	return Type(v), nil
}

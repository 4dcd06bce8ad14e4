package gpt

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Type is a partition type GUID in canonical upper-case string form.
type Type string

// Type GUIDs this package knows by name. Any GUID is legal on disk;
// these are just the common ones.
const (
	Unused             Type = "00000000-0000-0000-0000-000000000000"
	EFISystem          Type = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	BIOSBoot           Type = "21686148-6449-6E6F-744E-656564454649"
	MicrosoftReserved  Type = "E3C9E316-0B5C-4DB8-817D-F92DF00215AE"
	MicrosoftBasicData Type = "EBD0A0A2-B9E5-4433-87C0-68B6B72699C7"
	MicrosoftRecovery  Type = "DE94BBA4-06D1-4D40-A16A-BFD50179D6AC"
	LinuxFilesystem    Type = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
	LinuxSwap          Type = "0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"
	LinuxLVM           Type = "E6D6D379-F507-44C2-A23C-238F2A3DF928"
	LinuxRAID          Type = "A19D880F-05FC-4D3B-A006-743F0F84911E"
	LinuxHome          Type = "933AC7E1-2EB4-4F13-B844-0E14E2AEF915"
	FreeBSDData        Type = "516E7CB4-6ECF-11D6-8FF8-00022D09712B"
	AppleHFS           Type = "48465300-0000-11AA-AA11-00306543ECAC"
	VMwareVMFS         Type = "AA31E02A-400F-11DB-9590-000C2911D1B8"
)

var typeNames = map[Type]string{
	EFISystem:          "EFI System",
	BIOSBoot:           "BIOS boot",
	MicrosoftReserved:  "Microsoft reserved",
	MicrosoftBasicData: "Microsoft basic data",
	MicrosoftRecovery:  "Windows recovery environment",
	LinuxFilesystem:    "Linux filesystem",
	LinuxSwap:          "Linux swap",
	LinuxLVM:           "Linux LVM",
	LinuxRAID:          "Linux RAID",
	LinuxHome:          "Linux home",
	FreeBSDData:        "FreeBSD data",
	AppleHFS:           "Apple HFS/HFS+",
	VMwareVMFS:         "VMware VMFS",
}

// typeAliases are the short names accepted anywhere a type GUID is
// expected, for layout files and the command line.
var typeAliases = map[string]Type{
	"linux":  LinuxFilesystem,
	"swap":   LinuxSwap,
	"uefi":   EFISystem,
	"esp":    EFISystem,
	"bios":   BIOSBoot,
	"lvm":    LinuxLVM,
	"raid":   LinuxRAID,
	"home":   LinuxHome,
	"msdata": MicrosoftBasicData,
}

// Name returns the human-readable name of the type, or the GUID
// itself when unknown.
func (t Type) Name() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return string(t)
}

// ParseType resolves a type GUID or one of the short aliases.
func ParseType(s string) (Type, error) {
	if a, ok := typeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return a, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return Unused, fmt.Errorf("%q is neither a partition type GUID nor a known alias", s)
	}
	return Type(strings.ToUpper(u.String())), nil
}

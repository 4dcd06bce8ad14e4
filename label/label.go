// Package label defines the contract every partition-table type
// implements and the structured results those implementations return.
// Concrete types live in the dos and gpt subpackages; callers route
// through this interface and never print or prompt themselves.
package label

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies a partition-table type.
type Kind int

const (
	// Unknown means no label has been recognized.
	Unknown Kind = iota
	// DOS is the classic MBR table with extended/logical chains.
	DOS
	// GPT is the UEFI GUID partition table.
	GPT
	// The remaining kinds are recognized by signature only and cannot
	// be edited by this engine.
	Sun
	SGI
	AIX
	Mac
	BSD
)

func (k Kind) String() string {
	switch k {
	case DOS:
		return "dos"
	case GPT:
		return "gpt"
	case Sun:
		return "sun"
	case SGI:
		return "sgi"
	case AIX:
		return "aix"
	case Mac:
		return "mac"
	case BSD:
		return "bsd"
	default:
		return "unknown"
	}
}

// Policy and resource errors shared by the label implementations.
// Callers match them with errors.Is.
var (
	ErrUnsupported   = errors.New("label type is recognized but not supported")
	ErrNoLabel       = errors.New("no partition table found")
	ErrNoPartition   = errors.New("no such partition")
	ErrNoFreeSlots   = errors.New("no free partition slots left")
	ErrNoFreeSectors = errors.New("no free sectors available")
	ErrSectorUsed    = errors.New("sector is already allocated")
	ErrOverlap       = errors.New("partitions overlap")
	ErrExists        = errors.New("partition already defined")
	ErrCorrupt       = errors.New("partition table failed validation")
)

// AskFunc lets a front-end adjust a proposed sector value. prompt is a
// short human phrase, def the engine's proposal, low/high the inclusive
// bounds the answer must respect. A nil AskFunc accepts every proposal.
type AskFunc func(prompt string, def, low, high uint64) (uint64, error)

// Row is one partition in a listing. Fields that a table type does not
// carry stay zero.
type Row struct {
	Number   int    // 1-based, stable across listings
	Start    uint64 // first LBA
	End      uint64 // last LBA, inclusive
	Sectors  uint64
	Size     uint64 // bytes
	Type     string // human-readable type name when known
	TypeID   string // hex system id (DOS) or type GUID (GPT)
	UUID     string // unique partition GUID (GPT only)
	Name     string // partition name (GPT only)
	Attrs    uint64 // attribute bits (GPT only)
	Bootable bool   // active flag (DOS only)
	Logical  bool   // lives in the extended chain (DOS only)
}

// Diagnostic is one verification finding.
type Diagnostic struct {
	Message string
	// Partitions holds the 1-based numbers involved, empty for
	// whole-table findings.
	Partitions []int
}

// VerifyResult carries all diagnostics found by a verify pass. The
// summary fields are meaningful only when Diags is empty.
type VerifyResult struct {
	Diags []Diagnostic

	InUse        int
	FreeSectors  uint64
	FreeSegments int
	LargestFree  uint64
}

// Ok reports whether verification found nothing wrong.
func (v *VerifyResult) Ok() bool {
	return len(v.Diags) == 0
}

// Addf appends one formatted diagnostic involving the given 1-based
// partition numbers.
func (v *VerifyResult) Addf(parts []int, format string, args ...interface{}) {
	v.Diags = append(v.Diags, Diagnostic{
		Message:    fmt.Sprintf(format, args...),
		Partitions: parts,
	})
}

// AddRequest describes a partition to create.
type AddRequest struct {
	// Index is the target slot, 0-based. Negative picks the first
	// available slot (and for DOS prefers a primary, falling back to
	// growing the logical chain).
	Index int
	// Start and End are LBAs, inclusive. Zero asks the engine to
	// propose a value from the free-space search and the alignment
	// rules.
	Start uint64
	End   uint64
	// Type is the partition type in the label's own vocabulary: a hex
	// system id for DOS, a type GUID or alias for GPT. Empty picks the
	// label's default ("Linux").
	Type string
	// Name is the GPT partition name. DOS ignores it.
	Name string
	// Attrs are the GPT attribute bits. DOS ignores them.
	Attrs uint64
	// Bootable sets the DOS active flag. GPT maps it to the legacy
	// BIOS bootable attribute bit.
	Bootable bool
	// Ask reviews proposed sector values. Nil accepts the proposals.
	Ask AskFunc
}

// Label is one partition table bound to a device. Mutations happen in
// memory; nothing reaches the disk until Write.
type Label interface {
	Kind() Kind
	// UUID is the disk identifier: the disk GUID for GPT, the 32-bit
	// volume id for DOS.
	UUID() string
	Partitions() []Row
	Add(req AddRequest) (Row, error)
	Delete(index int) error
	SetType(index int, typeID string) error
	Verify() *VerifyResult
	Write() error
}

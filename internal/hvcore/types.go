package hvcore

// Segment is the canonical cross-backend x86 segment-register shape; each
// backend converts to/from its native encoding.
type Segment struct {
	Base       uint64
	Limit      uint32
	Selector   uint16
	Type       uint8 // 4-bit segment type
	NonSystem  bool  // S bit
	DPL        uint8 // 2-bit descriptor privilege level
	Present    bool
	Available  bool // AVL bit
	Long       bool // L bit
	DefaultSize bool // D/B bit
	Granularity bool // G bit
}

// AccessRights encodes the segment into a VMCS/WHP-style AR field:
// type[3:0] | S<<4 | DPL<<5 | P<<7 | AVL<<12 | L<<13 | DB<<14 | G<<15.
func (s Segment) AccessRights() uint32 {
	ar := uint32(s.Type & 0xF)
	if s.NonSystem {
		ar |= 1 << 4
	}
	ar |= uint32(s.DPL&0x3) << 5
	if s.Present {
		ar |= 1 << 7
	}
	if s.Available {
		ar |= 1 << 12
	}
	if s.Long {
		ar |= 1 << 13
	}
	if s.DefaultSize {
		ar |= 1 << 14
	}
	if s.Granularity {
		ar |= 1 << 15
	}
	return ar
}

// SegmentFromAccessRights decodes an AR field (plus base/limit/selector)
// into a Segment using the formula documented at hvcore.Segment.AccessRights.
func SegmentFromAccessRights(base uint64, limit uint32, selector uint16, ar uint32) Segment {
	return Segment{
		Base:        base,
		Limit:       limit,
		Selector:    selector,
		Type:        uint8(ar & 0xF),
		NonSystem:   ar&(1<<4) != 0,
		DPL:         uint8((ar >> 5) & 0x3),
		Present:     ar&(1<<7) != 0,
		Available:   ar&(1<<12) != 0,
		Long:        ar&(1<<13) != 0,
		DefaultSize: ar&(1<<14) != 0,
		Granularity: ar&(1<<15) != 0,
	}
}

// ARUnusable is the AR "unusable" bit (bit 16); callers that track unusable segments (LDTR) store it out of band since it
// is not part of the canonical Segment shape.
const ARUnusable uint32 = 1 << 16

// DescriptorTable is the GDTR/IDTR shape: base and a 16-bit limit.
type DescriptorTable struct {
	Base  uint64
	Limit uint16
}

// Protection is a READ|WRITE|EXECUTE bitfield.
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExecute
)

func (p Protection) Has(bit Protection) bool { return p&bit != 0 }

// ExitKind tags the variant carried by an ExitReason.
type ExitKind int

const (
	ExitHalted ExitKind = iota
	ExitIoOut
	ExitIoIn
	ExitMmioRead
	ExitMmioWrite
	ExitInvalidMemoryAccess
	ExitUnhandledException
	ExitUnknown
)

// ExitReason is the normalized, backend-independent reason a vCPU's Run
// call returned. Byte slices are only valid until the next Run call on the
// same vCPU (they typically alias a fixed scratch buffer owned by the
// backend vcpu handle).
type ExitReason struct {
	Kind ExitKind

	// IoOut / IoIn
	Port  uint16
	Bytes []byte // IoOut: data written; IoIn: buffer to fill; MmioWrite: data written

	// MmioRead / MmioWrite
	Address uint64

	// InvalidMemoryAccess
	Gpa uint64
	Gva uint64
}

package hvcore

import "testing"

func TestAccessRightsRoundTrip(t *testing.T) {
	seg := Segment{
		Base:        0xDEAD0000,
		Limit:       0xFFFF,
		Selector:    0x08,
		Type:        0xB,
		NonSystem:   true,
		DPL:         0,
		Present:     true,
		Available:   false,
		Long:        true,
		DefaultSize: false,
		Granularity: true,
	}

	ar := seg.AccessRights()
	got := SegmentFromAccessRights(seg.Base, seg.Limit, seg.Selector, ar)
	if got != seg {
		t.Fatalf("SegmentFromAccessRights(AccessRights()) = %+v, want %+v", got, seg)
	}
}

func TestAccessRightsUnusableBit(t *testing.T) {
	ar := Segment{}.AccessRights() | ARUnusable
	if ar&ARUnusable == 0 {
		t.Fatal("ARUnusable bit should survive OR-ing into an access-rights field")
	}
}

func TestVmcsGuestSegmentFieldsDoNotCollide(t *testing.T) {
	type block struct {
		name                        string
		selector, limit, ar, base Vmcs
	}
	blocks := []block{
		{"ES", VmcsGuestESSelector, VmcsGuestESLimit, VmcsGuestESAccessRights, VmcsGuestESBase},
		{"CS", VmcsGuestCSSelector, VmcsGuestCSLimit, VmcsGuestCSAccessRights, VmcsGuestCSBase},
		{"SS", VmcsGuestSSSelector, VmcsGuestSSLimit, VmcsGuestSSAccessRights, VmcsGuestSSBase},
		{"DS", VmcsGuestDSSelector, VmcsGuestDSLimit, VmcsGuestDSAccessRights, VmcsGuestDSBase},
		{"FS", VmcsGuestFSSelector, VmcsGuestFSLimit, VmcsGuestFSAccessRights, VmcsGuestFSBase},
		{"GS", VmcsGuestGSSelector, VmcsGuestGSLimit, VmcsGuestGSAccessRights, VmcsGuestGSBase},
		{"LDTR", VmcsGuestLDTRSelector, VmcsGuestLDTRLimit, VmcsGuestLDTRAccessRights, VmcsGuestLDTRBase},
		{"TR", VmcsGuestTRSelector, VmcsGuestTRLimit, VmcsGuestTRAccessRights, VmcsGuestTRBase},
	}

	// Canonical Intel SDM encoding: each segment's selector/limit/AR sits
	// two slots after the previous segment's, in ES,CS,SS,DS,FS,GS order;
	// LDTR and TR continue the same +2 rotation. Verify both the absolute
	// encoding and that no two segments share a field.
	wantSelector := map[string]Vmcs{
		"ES": 0x0800, "CS": 0x0802, "SS": 0x0804, "DS": 0x0806,
		"FS": 0x0808, "GS": 0x080A, "LDTR": 0x080C, "TR": 0x080E,
	}
	wantLimit := map[string]Vmcs{
		"ES": 0x4800, "CS": 0x4802, "SS": 0x4804, "DS": 0x4806,
		"FS": 0x4808, "GS": 0x480A, "LDTR": 0x480C, "TR": 0x480E,
	}
	wantAR := map[string]Vmcs{
		"ES": 0x4814, "CS": 0x4816, "SS": 0x4818, "DS": 0x481A,
		"FS": 0x481C, "GS": 0x481E, "LDTR": 0x4820, "TR": 0x4822,
	}
	wantBase := map[string]Vmcs{
		"ES": 0x6806, "CS": 0x6808, "SS": 0x680A, "DS": 0x680C,
		"FS": 0x680E, "GS": 0x6810, "LDTR": 0x6812, "TR": 0x6814,
	}

	seen := map[Vmcs]string{}
	for _, b := range blocks {
		if b.selector != wantSelector[b.name] {
			t.Errorf("%s selector = %#x, want %#x", b.name, b.selector, wantSelector[b.name])
		}
		if b.limit != wantLimit[b.name] {
			t.Errorf("%s limit = %#x, want %#x", b.name, b.limit, wantLimit[b.name])
		}
		if b.ar != wantAR[b.name] {
			t.Errorf("%s access rights = %#x, want %#x", b.name, b.ar, wantAR[b.name])
		}
		if b.base != wantBase[b.name] {
			t.Errorf("%s base = %#x, want %#x", b.name, b.base, wantBase[b.name])
		}
		for _, f := range []Vmcs{b.selector, b.limit, b.ar, b.base} {
			if owner, ok := seen[f]; ok {
				t.Errorf("field %#x used by both %s and %s", f, owner, b.name)
			}
			seen[f] = b.name
		}
	}
}

func TestRegisterString(t *testing.T) {
	if got := RAX.String(); got != "RAX" {
		t.Fatalf("RAX.String() = %q, want RAX", got)
	}
	if got := Register(999).String(); got != "Register(unknown)" {
		t.Fatalf("Register(999).String() = %q, want Register(unknown)", got)
	}
}

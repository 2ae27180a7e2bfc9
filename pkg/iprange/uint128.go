package iprange

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"net/netip"
)

// Family is an IP address family.
type Family int

const (
	V4 Family = iota
	V6
)

func (f Family) String() string {
	if f == V4 {
		return "ipv4"
	}
	return "ipv6"
}

// Uint128 is the integer form of an address. IPv4 addresses live in Lo.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

var maxUint128 = Uint128{Hi: ^uint64(0), Lo: ^uint64(0)}

func (u Uint128) Compare(v Uint128) int {
	switch {
	case u.Hi < v.Hi:
		return -1
	case u.Hi > v.Hi:
		return 1
	case u.Lo < v.Lo:
		return -1
	case u.Lo > v.Lo:
		return 1
	}
	return 0
}

func (u Uint128) Less(v Uint128) bool {
	return u.Compare(v) < 0
}

// AddOne returns u+1, saturating at the maximum value.
func (u Uint128) AddOne() Uint128 {
	if u == maxUint128 {
		return u
	}
	lo, carry := bits.Add64(u.Lo, 1, 0)
	return Uint128{Hi: u.Hi + carry, Lo: lo}
}

// SubOne returns u-1, saturating at zero.
func (u Uint128) SubOne() Uint128 {
	if u == (Uint128{}) {
		return u
	}
	lo, borrow := bits.Sub64(u.Lo, 1, 0)
	return Uint128{Hi: u.Hi - borrow, Lo: lo}
}

func (u Uint128) String() string {
	if u.Hi == 0 {
		return fmt.Sprintf("%d", u.Lo)
	}
	return fmt.Sprintf("0x%016x%016x", u.Hi, u.Lo)
}

// FromAddr converts an address to its family and integer form. IPv4-mapped
// IPv6 addresses are treated as IPv4.
func FromAddr(addr netip.Addr) (Family, Uint128, bool) {
	if !addr.IsValid() {
		return V4, Uint128{}, false
	}
	addr = addr.Unmap()
	if addr.Is4() {
		b := addr.As4()
		return V4, Uint128{Lo: uint64(binary.BigEndian.Uint32(b[:]))}, true
	}
	b := addr.As16()
	return V6, Uint128{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:]),
	}, true
}

// ToAddr converts an integer back to an address of the given family.
func ToAddr(family Family, u Uint128) netip.Addr {
	if family == V4 {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(u.Lo))
		return netip.AddrFrom4(b)
	}
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], u.Hi)
	binary.BigEndian.PutUint64(b[8:], u.Lo)
	return netip.AddrFrom16(b)
}

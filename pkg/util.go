package protocol

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/netstack/tcpip/header"
)

// ConvertAddrToUint32 returns the numeric (big-endian) form of an IPv4
// address.
func ConvertAddrToUint32(addr netip.Addr) uint32 {
	bytes := addr.As4()
	return binary.BigEndian.Uint32(bytes[:])
}

// Uint32ToAddr is the inverse of ConvertAddrToUint32.
func Uint32ToAddr(input uint32) netip.Addr {
	var bytes [4]byte
	binary.BigEndian.PutUint32(bytes[:], input)
	return netip.AddrFrom4(bytes)
}

// ComputeChecksum computes the Internet checksum of headerBytes. A buffer
// carrying a correct embedded checksum sums to zero.
func ComputeChecksum(headerBytes []byte) uint16 {
	checksum := header.Checksum(headerBytes, 0)
	return checksum ^ 0xffff
}

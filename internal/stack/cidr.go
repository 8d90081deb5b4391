package stack

import (
	"fmt"
	"math/bits"
	"net/netip"
)

// cidrSubnet carves the netnum-th block of prefix extended by newbits,
// the same way Terraform's cidrsubnet does. IPv4 only.
func cidrSubnet(prefix string, newbits, netnum int) (string, error) {
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		return "", fmt.Errorf("invalid CIDR prefix: %w", err)
	}
	if !p.Addr().Is4() {
		return "", fmt.Errorf("only IPv4 prefixes are supported, got %s", prefix)
	}
	p = p.Masked()
	newLen := p.Bits() + newbits
	if newLen > 32 {
		return "", fmt.Errorf("prefix extension of %d bits is too large for %s", newbits, prefix)
	}
	if netnum < 0 || netnum >= 1<<newbits {
		return "", fmt.Errorf("subnet number %d exceeds max subnets %d", netnum, 1<<newbits)
	}

	a4 := p.Addr().As4()
	base := uint32(a4[0])<<24 | uint32(a4[1])<<16 | uint32(a4[2])<<8 | uint32(a4[3])
	// #nosec G115 -- netnum is bounded by 1<<newbits above
	base += uint32(netnum) << (32 - newLen)
	addr := netip.AddrFrom4([4]byte{byte(base >> 24), byte(base >> 16), byte(base >> 8), byte(base)})
	return netip.PrefixFrom(addr, newLen).String(), nil
}

// bitsFor returns the number of extra prefix bits needed to fit n subnets.
func bitsFor(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

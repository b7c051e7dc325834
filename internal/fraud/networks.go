package fraud

import (
	"fmt"
	"net"
	"strings"

	"github.com/yl2chen/cidranger"
)

// networkList answers CIDR membership for origin addresses.
type networkList struct {
	ranger cidranger.Ranger
	size   int
}

func newNetworkList(cidrs []string) (*networkList, error) {
	l := &networkList{ranger: cidranger.NewPCTrieRanger()}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			if ip := net.ParseIP(c); ip != nil && ip.To4() != nil {
				c += "/32"
			} else {
				c += "/128"
			}
		}
		_, network, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("%w: network %q: %v", ErrInvalidPolicy, c, err)
		}
		if err := l.ranger.Insert(cidranger.NewBasicRangerEntry(*network)); err != nil {
			return nil, fmt.Errorf("%w: network %q: %v", ErrInvalidPolicy, c, err)
		}
		l.size++
	}
	return l, nil
}

// contains reports whether origin, an IP with or without a port, falls in
// any listed network. Unparseable origins are never members.
func (l *networkList) contains(origin string) bool {
	if l == nil || l.size == 0 {
		return false
	}
	ip := parseOrigin(origin)
	if ip == nil {
		return false
	}
	ok, err := l.ranger.Contains(ip)
	return err == nil && ok
}

func parseOrigin(origin string) net.IP {
	origin = strings.TrimSpace(origin)
	if host, _, err := net.SplitHostPort(origin); err == nil {
		origin = host
	}
	return net.ParseIP(strings.Trim(origin, "[]"))
}

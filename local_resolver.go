package ddns

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// interfaceLookup returns the first public IPv4 address assigned to the named interface.
// If name is empty then all interfaces are searched.
func interfaceLookup(name string) (string, error) {
	var addrs []net.Addr
	var err error
	if name == "" {
		addrs, err = net.InterfaceAddrs()
		if err != nil {
			return "", fmt.Errorf("error getting interface addresses: %w", err)
		}
	} else {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return "", fmt.Errorf("error getting interface %s by name: %w", name, err)
		}
		addrs, err = iface.Addrs()
		if err != nil {
			return "", fmt.Errorf("error looking up addresses for interface %s: %w", name, err)
		}
	}

	// addr: ip+net:192.168.86.253/24
	// addr: ip+net:fd64:9f44:fc30:0:b951:8b16:2812:a227/64
	// addr: ip+net:fe80::2cc9:801b:3551:9a43/64
	var parseErrors []error
	for _, addr := range addrs {
		prefix, err := netip.ParsePrefix(addr.String())
		if err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("error parsing local ip %s: %w", addr.String(), err))
			continue
		}
		if a := prefix.Addr(); isPublicIPv4(a) {
			return a.String(), nil
		}
	}
	if len(parseErrors) > 0 {
		return "", fmt.Errorf("no public IPv4 address found: %w", errors.Join(parseErrors...))
	}
	return "", errors.New("no public IPv4 address found")
}

func isPublicIPv4(a netip.Addr) bool {
	return a.Is4() && a.IsGlobalUnicast() && !a.IsPrivate()
}

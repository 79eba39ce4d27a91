package network

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/jackpal/gateway"
)

// GetSourceIP returns the local ip address used to reach target:port.
// If target is the empty string then the default gateway ip is used.
// If the port is 0, then 1900 is used by default.
func GetSourceIP(target string, port int) (netip.Addr, error) {
	if target == "" {
		ip, err := gateway.DiscoverGateway()
		if err != nil {
			return netip.Addr{}, fmt.Errorf("discovering default gateway: %w", err)
		}
		target = ip.String()
	}
	if port == 0 {
		port = 1900
	}

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", target, port))
	if err != nil {
		return netip.Addr{}, err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	addr, ok := netip.AddrFromSlice(localAddr.IP.To4())
	if !ok {
		return netip.Addr{}, fmt.Errorf("no IPv4 source address toward %s", target)
	}

	return addr, nil
}

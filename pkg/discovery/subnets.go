package discovery

import (
	"fmt"
	"net"
)

// localNetworks returns the IPv4 networks assigned to the host's own
// interfaces, loopback and link-local excluded. Range probing derives its
// candidates from these only; global ranges are never scanned.
func localNetworks() ([]*net.IPNet, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}

	var networks []*net.IPNet

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}

		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}

		networks = append(networks, &net.IPNet{IP: ip.Mask(ipNet.Mask), Mask: ipNet.Mask})
	}

	if len(networks) == 0 {
		return nil, errNoLocalNetworks
	}

	return networks, nil
}

// expandNetwork lists the candidate host addresses in an IPv4 network,
// excluding the network and broadcast addresses. Networks wider than /24 are
// clamped to the /24 containing the network address to bound a probe pass at
// 254 candidates.
func expandNetwork(ipNet *net.IPNet) ([]string, error) {
	ip := ipNet.IP.To4()
	if ip == nil {
		return nil, errNotIPv4Network
	}

	ones, _ := ipNet.Mask.Size()
	if ones < 24 {
		ones = 24
	}

	hosts := make([]string, 0, 254)

	if ones >= 31 {
		return []string{ip.String()}, nil
	}

	base := make(net.IP, len(ip))
	copy(base, ip)

	count := 1 << (32 - ones)

	for i := 1; i < count-1; i++ {
		host := make(net.IP, 4)
		copy(host, base)

		host[3] = base[3] + byte(i&0xff)
		host[2] = base[2] + byte(i>>8)

		hosts = append(hosts, host.String())
	}

	return hosts, nil
}

// broadcastAddr returns the directed broadcast address for a network.
func broadcastAddr(ipNet *net.IPNet) net.IP {
	ip := ipNet.IP.To4()
	if ip == nil {
		return nil
	}

	mask := ipNet.Mask

	bcast := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		bcast[i] = ip[i] | ^mask[i]
	}

	return bcast
}

// onLocalNetwork reports whether host falls inside any of the host machine's
// own IPv4 networks.
func onLocalNetwork(host string, networks []*net.IPNet) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, n := range networks {
		if n.Contains(ip) {
			return true
		}
	}

	return false
}

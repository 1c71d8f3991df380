package session

import (
	"crypto/sha256"
	"fmt"
	"net"
	"strings"
)

// Fingerprint derives a stable per-browser value from the client network and
// User-Agent. For IPv4 only the first three octets are hashed, so DHCP churn
// inside a /24 does not evict sessions while a cross-network replay still
// changes the print. IPv6 addresses are truncated to their /64 prefix.
func Fingerprint(ipAddress, userAgent string) string {
	data := []byte(fmt.Sprintf("%s:%s", networkPrefix(ipAddress), userAgent))
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)[:32]
}

func networkPrefix(ipAddress string) string {
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return ipAddress
	}

	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d", v4[0], v4[1], v4[2])
	}

	// /64 prefix for IPv6
	masked := ip.Mask(net.CIDRMask(64, 128))
	return strings.ToLower(masked.String())
}

package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// TrustProxies makes c.IP() read the client address from header, but only on
// requests whose remote address is one of proxies (IPs or CIDR ranges).
// With no header or no proxies, c.IP() is the socket peer.
func TrustProxies(cfg *fiber.Config, header string, proxies []string) {
	header = strings.TrimSpace(header)
	var trusted []string
	for _, p := range proxies {
		if p = strings.TrimSpace(p); p != "" {
			trusted = append(trusted, p)
		}
	}
	if header == "" || len(trusted) == 0 {
		return
	}
	cfg.ProxyHeader = header
	cfg.EnableIPValidation = true
	cfg.EnableTrustedProxyCheck = true
	cfg.TrustedProxies = trusted
}

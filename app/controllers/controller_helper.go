package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GetClientIP determines the actual client IP address considering proxies.
// Proxy headers win over the socket address because the app usually sits
// behind Cloudflare or a reverse proxy.
func GetClientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}

	// X-Forwarded-For can contain a list of IPs - the first one is the
	// original client IP
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if realIP := strings.TrimSpace(c.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	return c.IP()
}

// parseUintParam reads a numeric route parameter, 0 when absent or invalid.
func parseUintParam(c *fiber.Ctx, name string) uint {
	v, err := c.ParamsInt(name)
	if err != nil || v < 0 {
		return 0
	}
	return uint(v)
}

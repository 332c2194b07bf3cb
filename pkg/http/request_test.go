package http_test

import (
	"net/http/httptest"
	"testing"

	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/stretchr/testify/assert"
)

func TestExtractClientIP_UntrustedPeerIgnoresHeaders(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "203.0.113.10:54321"
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	req.Header.Set("X-Real-IP", "192.168.1.1")

	cfg := pkghttp.NewIPConfig([]string{"10.0.0.0/8", "127.0.0.1/32"})

	assert.Equal(t, "203.0.113.10", pkghttp.ExtractClientIP(req, cfg))
}

func TestExtractClientIP_TrustedProxyUsesFirstForwarded(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	req.Header.Set("X-Forwarded-For", "garbage, 203.0.113.42, 10.0.0.5")

	cfg := pkghttp.NewIPConfig([]string{"10.0.0.0/8"})

	assert.Equal(t, "203.0.113.42", pkghttp.ExtractClientIP(req, cfg))
}

func TestExtractClientIP_TrustedProxyFallsBackToRealIP(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	req.Header.Set("X-Real-IP", "198.51.100.7")

	cfg := pkghttp.NewIPConfig([]string{"10.0.0.0/8"})

	assert.Equal(t, "198.51.100.7", pkghttp.ExtractClientIP(req, cfg))
}

func TestExtractClientIP_IPv6Proxy(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "[fd00::1]:443"
	req.Header.Set("X-Forwarded-For", "2001:db8::42")

	cfg := pkghttp.NewIPConfig([]string{"fd00::/8"})

	assert.Equal(t, "2001:db8::42", pkghttp.ExtractClientIP(req, cfg))
}

func TestExtractClientIP_NilConfig(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "1.1.1.1")

	assert.Equal(t, "127.0.0.1", pkghttp.ExtractClientIP(req, nil))
}

func TestExtractClientIP_InvalidCIDRSkipped(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	req.Header.Set("X-Forwarded-For", "1.1.1.1")

	cfg := pkghttp.NewIPConfig([]string{"not-a-cidr"})

	assert.Equal(t, "10.0.0.5", pkghttp.ExtractClientIP(req, cfg))
}

func TestExtractRequestMeta(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "203.0.113.10:1"
	req.Header.Set("User-Agent", "warden-test/1.0")
	req.Header.Set(pkghttp.DeviceIDHeader, "  device-123 ")

	meta := pkghttp.ExtractRequestMeta(req, nil)

	assert.Equal(t, "203.0.113.10", meta.IPAddress)
	assert.Equal(t, "warden-test/1.0", meta.UserAgent)
	assert.Equal(t, "device-123", meta.DeviceID)
}

package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var (
	secretPattern = regexp.MustCompile(`(?i)(password|token|secret|key)=([^\s&]+)`)
	dsnPassword   = regexp.MustCompile(`(://[^:/@]+:)[^@]+@`)
)

// RedactIP keeps the network part of an address so logs can still be
// grouped by client without storing the full address.
func RedactIP(ip string) string {
	host, _, err := net.SplitHostPort(ip)
	if err == nil {
		ip = host
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		if ip == "" || ip == "anonymous" {
			return ip
		}
		hash := sha256.Sum256([]byte(ip))
		return "hash:" + hex.EncodeToString(hash[:8])
	}
	if ipv4 := parsed.To4(); ipv4 != nil {
		ipv4[3] = 0
		return ipv4.String()
	}
	ipv6 := parsed.To16()
	for i := 4; i < 16; i++ {
		ipv6[i] = 0
	}
	return ipv6.String()
}
func RedactSecret(s string) string {
	s = dsnPassword.ReplaceAllString(s, "${1}***@")
	return secretPattern.ReplaceAllString(s, "$1=[REDACTED]")
}
func RedactSensitive(key, val string) string {
	lower := strings.ToLower(key)
	isSensitive := strings.Contains(lower, "password") ||
		strings.Contains(lower, "token") ||
		strings.Contains(lower, "secret") ||
		strings.Contains(lower, "key")
	if !isSensitive {
		return val
	}
	if len(val) <= 3 {
		return "***"
	}
	return val[:2] + "***" + val[len(val)-2:]
}

// SnippetPreview is what gets logged in place of file content.
func SnippetPreview(content string) string {
	if len(content) <= 16 {
		return "[" + strconv.Itoa(len(content)) + " bytes]"
	}
	return content[:8] + "...[" + strconv.Itoa(len(content)) + " bytes]"
}

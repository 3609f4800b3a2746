// Package utils holds small parsing helpers shared across the LSP stack.
package utils

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var pubkeyRegex = regexp.MustCompile(`^[0-9a-fA-F]{66}$`)

// ParseLSPURI parses an LSP URI in the format pubkey@host:port
func ParseLSPURI(uri string) (pubkey, host string, err error) {
	parts := strings.Split(uri, "@")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid URI format: expected pubkey@host:port")
	}
	pubkey = strings.ToLower(parts[0])
	host = parts[1]

	if !pubkeyRegex.MatchString(pubkey) {
		return "", "", fmt.Errorf("invalid pubkey format: expected 33-byte hex")
	}
	if host == "" {
		return "", "", fmt.Errorf("host cannot be empty")
	}

	return pubkey, host, nil
}

// ParseHostPort parses a host string which may or may not contain a port.
// If the port is missing, it returns the host and 0 as port.
// It handles "host:port" and "host" cases.
func ParseHostPort(input string) (host string, port uint16, err error) {
	if input == "" {
		return "", 0, fmt.Errorf("host cannot be empty")
	}

	h, pStr, err := net.SplitHostPort(input)
	if err != nil {
		// net.SplitHostPort errors when there is no port at all; treat
		// that case as host-only.
		if strings.Contains(err.Error(), "missing port") {
			return input, 0, nil
		}
		return "", 0, err
	}

	p, err := strconv.Atoi(pStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port: %w", err)
	}

	if p < 0 || p > 65535 {
		return "", 0, fmt.Errorf("invalid port number: %d", p)
	}

	return h, uint16(p), nil
}

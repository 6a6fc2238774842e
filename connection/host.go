// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package connection

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	mappedIPv4Pattern = regexp.MustCompile(`^::[fF]{4}:(\d+\.\d+\.\d+\.\d+)`)
	hostPortPattern   = regexp.MustCompile(`^(.*[^:]):(\d+)$`)
)

// parseHost normalizes a host string. IPv4-mapped IPv6 addresses become
// plain IPv4, "::1" becomes 127.0.0.1 and "name:port" is split. port is -1
// when host carries none.
func parseHost(host string) (name string, port int) {
	if m := mappedIPv4Pattern.FindStringSubmatch(host); m != nil {
		return m[1], -1
	}
	if host == "::1" {
		return "127.0.0.1", -1
	}
	if strings.Count(host, ":") == 1 {
		if m := hostPortPattern.FindStringSubmatch(host); m != nil {
			if p, err := strconv.Atoi(m[2]); err == nil {
				return m[1], p
			}
		}
	}
	return host, -1
}

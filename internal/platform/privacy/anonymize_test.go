package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "ipv4", input: "192.168.1.47", expected: "192.168.1.0"},
		{name: "ipv4 remote addr with port", input: "10.20.30.40:51234", expected: "10.20.30.0"},
		{name: "ipv4 mapped ipv6", input: "::ffff:172.16.50.255", expected: "172.16.50.0"},
		{name: "ipv6", input: "2001:db8:85a3::8a2e:370:7334", expected: "2001:db8:85a3::"},
		{name: "ipv6 remote addr with port", input: "[2001:db8:85a3::1]:443", expected: "2001:db8:85a3::"},
		{name: "ipv6 loopback", input: "::1", expected: "::"},
		{name: "empty", input: "", expected: "unknown"},
		{name: "already unknown", input: "unknown", expected: "unknown"},
		{name: "hostname", input: "gateway.internal", expected: "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AnonymizeIP(tt.input))
		})
	}
}

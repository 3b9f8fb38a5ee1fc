package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"workerlink/message"
)

func TestSelect(t *testing.T) {
	defaults := message.DefaultNetworkOptions()

	tests := []struct {
		name  string
		flags Flags
		opts  message.NetworkOptions
		want  Mode
	}{
		{"defaults without flags", Flags{}, defaults, Direct},
		{"port flag at default value", Flags{Port: true}, defaults, Server},
		{"hostname flag at default value", Flags{Hostname: true}, defaults, Server},
		{"mdns flag", Flags{MDNS: true}, defaults, Server},
		{"non-zero port", Flags{}, message.NetworkOptions{Port: 4096, Hostname: "127.0.0.1"}, Server},
		{"other hostname", Flags{}, message.NetworkOptions{Hostname: "0.0.0.0"}, Server},
		{"mdns option", Flags{}, message.NetworkOptions{Hostname: "127.0.0.1", MDNS: true}, Server},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(tt.flags, tt.opts))
		})
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "direct", Direct.String())
	assert.Equal(t, "server", Server.String())
	assert.Equal(t, "unknown", Mode(7).String())
}

func TestSelectIsPure(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		flags := Flags{
			Port:     rapid.Bool().Draw(t, "portFlag"),
			Hostname: rapid.Bool().Draw(t, "hostnameFlag"),
			MDNS:     rapid.Bool().Draw(t, "mdnsFlag"),
		}
		opts := message.NetworkOptions{
			Port:     rapid.IntRange(0, 65535).Draw(t, "port"),
			Hostname: rapid.SampledFrom([]string{"127.0.0.1", "0.0.0.0", "localhost", ""}).Draw(t, "hostname"),
			MDNS:     rapid.Bool().Draw(t, "mdns"),
		}

		first := Select(flags, opts)
		if Select(flags, opts) != first {
			t.Fatalf("Select(%+v, %+v) is not deterministic", flags, opts)
		}

		isDefault := !flags.Any() && opts == message.DefaultNetworkOptions()
		if (first == Direct) != isDefault {
			t.Fatalf("Select(%+v, %+v) = %s", flags, opts, first)
		}
	})
}

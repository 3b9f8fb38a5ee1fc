// Package mode decides once, at startup, how the front end reaches the worker.
package mode

import "workerlink/message"

// Mode is the operating mode of a front end / worker pair.
type Mode int

const (
	// Direct talks to the worker only over the RPC channel; HTTP is virtualized.
	Direct Mode = iota
	// Server has the worker bind a real HTTP listener and return its URL.
	Server
)

func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Server:
		return "server"
	default:
		return "unknown"
	}
}

// Flags records which networking flags appeared on the command line,
// regardless of the values they were given.
type Flags struct {
	Port     bool
	Hostname bool
	MDNS     bool
}

// Any reports whether any networking flag was present.
func (f Flags) Any() bool {
	return f.Port || f.Hostname || f.MDNS
}

// Select returns Server when a networking flag was given or opts ask for
// anything other than the defaults (port 0, hostname 127.0.0.1, no mDNS),
// and Direct otherwise.
//
// Flag presence is its own trigger: --port=0 on the command line still
// selects Server even though the resolved port equals the default.
func Select(flags Flags, opts message.NetworkOptions) Mode {
	if flags.Any() ||
		opts.MDNS ||
		opts.Port != message.DefaultPort ||
		opts.Hostname != message.DefaultHostname {
		return Server
	}
	return Direct
}

package message

// Method pairs a wire method name with its payload and result types. The set
// of methods below is the complete call surface between front end and worker;
// both sides refer to these values instead of bare strings.
type Method[P, R any] struct {
	Name string
}

// Empty is the payload or result of methods that carry nothing.
type Empty struct{}

// EventChannel is the push channel carrying backend events.
const EventChannel = "event"

var (
	MethodFetch        = Method[SerializedHTTPRequest, SerializedHTTPResponse]{Name: "fetch"}
	MethodServer       = Method[NetworkOptions, ServerInfo]{Name: "server"}
	MethodReload       = Method[Empty, Empty]{Name: "reload"}
	MethodShutdown     = Method[Empty, Empty]{Name: "shutdown"}
	MethodCheckUpgrade = Method[UpgradeRequest, Empty]{Name: "checkUpgrade"}
)

// SerializedHTTPRequest is an HTTP request flattened for transport. Body is
// always text; nil means the request had no body, which is distinct from "".
type SerializedHTTPRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    *string           `json:"body,omitempty"`
}

// SerializedHTTPResponse is the worker's answer to a fetch call.
type SerializedHTTPResponse struct {
	Body    string            `json:"body"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
}

// Default network values. Together they mean no networking was requested.
const (
	DefaultPort     = 0
	DefaultHostname = "127.0.0.1"
)

// NetworkOptions are the resolved listen options for server mode.
type NetworkOptions struct {
	Port     int    `json:"port" mapstructure:"port" yaml:"port"`
	Hostname string `json:"hostname" mapstructure:"hostname" yaml:"hostname"`
	MDNS     bool   `json:"mdns" mapstructure:"mdns" yaml:"mdns"`
}

// DefaultNetworkOptions returns the options used when nothing was requested.
func DefaultNetworkOptions() NetworkOptions {
	return NetworkOptions{Port: DefaultPort, Hostname: DefaultHostname}
}

// ServerInfo is returned by the server method.
type ServerInfo struct {
	URL string `json:"url"`
}

// UpgradeRequest asks the worker to check for a newer release.
type UpgradeRequest struct {
	Directory string `json:"directory"`
}

// Event is a backend-originated notification, e.g. a session or status update.
type Event struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

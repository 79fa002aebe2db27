package wrap

import (
	"os"
	"strings"
)

// Environment variables consulted by EnvFromOS.
const (
	EnvWrapNamespace       = "AZURE_WRAP_NAMESPACE"
	EnvServiceBusNamespace = "AZURE_SERVICEBUS_NAMESPACE"
	EnvServiceBusIssuer    = "AZURE_SERVICEBUS_ISSUER"
	EnvServiceBusAccessKey = "AZURE_SERVICEBUS_ACCESS_KEY"
)

// Defaults applied by Resolve when neither an explicit value nor the
// environment provides one.
const (
	DefaultHost            = "accesscontrol.windows.net"
	DefaultNamespaceSuffix = "-sb"
	DefaultIssuer          = "owner"
)

// Every ACS endpoint is reached over HTTPS on the standard port.
const (
	Scheme = "https"
	Port   = 443
)

// Identity holds the values a WRAP token request is issued with.
type Identity struct {
	Namespace string
	Issuer    string
	AccessKey string
	Host      string
}

// Env is the environment-sourced part of an Identity.
type Env struct {
	WrapNamespace       string
	ServiceBusNamespace string
	ServiceBusIssuer    string
	ServiceBusAccessKey string
}

// EnvFromLookup builds an Env using lookup (typically os.LookupEnv).
func EnvFromLookup(lookup func(string) (string, bool)) Env {
	get := func(key string) string {
		if v, ok := lookup(key); ok {
			return strings.TrimSpace(v)
		}
		return ""
	}
	return Env{
		WrapNamespace:       get(EnvWrapNamespace),
		ServiceBusNamespace: get(EnvServiceBusNamespace),
		ServiceBusIssuer:    get(EnvServiceBusIssuer),
		ServiceBusAccessKey: get(EnvServiceBusAccessKey),
	}
}

// EnvFromOS reads the process environment once.
func EnvFromOS() Env {
	return EnvFromLookup(os.LookupEnv)
}

// Resolve fills every empty field of explicit from env, then from the
// package defaults. It never fails: an empty access key is kept as is and
// surfaces later as an authorization failure from ACS.
//
// When no namespace source is set at all the result is the bare suffix
// ("-sb"); callers that care should check Identity.Namespace.
func Resolve(explicit Identity, env Env) Identity {
	id := explicit

	if id.Host == "" {
		id.Host = DefaultHost
	}

	if id.Namespace == "" {
		id.Namespace = env.WrapNamespace
		if id.Namespace == "" {
			id.Namespace = env.ServiceBusNamespace + DefaultNamespaceSuffix
		}
	}

	if id.Issuer == "" {
		id.Issuer = env.ServiceBusIssuer
		if id.Issuer == "" {
			id.Issuer = DefaultIssuer
		}
	}

	if id.AccessKey == "" {
		id.AccessKey = env.ServiceBusAccessKey
	}

	return id
}

// Hostname is the ACS namespace subdomain: "{namespace}.{host}".
func (id Identity) Hostname() string {
	return id.Namespace + "." + id.Host
}

// String never includes the access key.
func (id Identity) String() string {
	key := "<empty>"
	if id.AccessKey != "" {
		key = "<redacted>"
	}
	return "namespace=" + id.Namespace + " issuer=" + id.Issuer + " host=" + id.Host + " key=" + key
}

// NormalizePath returns path with a leading "/". An empty path becomes "/".
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

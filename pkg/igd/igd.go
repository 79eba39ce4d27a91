// Package igd is a client for the UPnP Internet Gateway Device protocol.
// It discovers a NAT gateway on the local network over SSDP and negotiates
// port mappings with it over SOAP.
//
// Use one of the search functions to obtain a Gateway, then call its methods
// to map, unmap and inspect ports.
//
// Some routers expose both a WANIPConnection:1 and a WANPPPConnection:1
// service; when both appear under the same service list the IP connection
// service is preferred. Routers that only answer on the PPP service are still
// resolved.
package igd

// Protocol selects the transport protocol of a port mapping. Its value is
// written literally into SOAP request bodies.
type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
)

const (
	serviceWANIPConnection  = "urn:schemas-upnp-org:service:WANIPConnection:1"
	serviceWANPPPConnection = "urn:schemas-upnp-org:service:WANPPPConnection:1"

	deviceInternetGateway = "urn:schemas-upnp-org:device:InternetGatewayDevice:1"
)

package igd

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/rs/zerolog"
)

// AddAnyPort gives up after this many AddPortMapping attempts with fresh
// random ports when the gateway keeps reporting conflicts.
const maxAddAnyPortRetries = 20

// Gateway is a resolved IGD control endpoint. Two gateways are Equal when
// they share the same device address and control URL, regardless of how they
// were resolved. A Gateway is immutable once constructed and safe for
// concurrent use.
type Gateway struct {
	addr       netip.AddrPort
	controlURL string

	transport  Transport
	selectPort PortSelector
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithTransport substitutes the Transport used for SOAP requests.
func WithTransport(t Transport) Option {
	return func(g *Gateway) { g.transport = t }
}

// WithPortSelector substitutes the external port selection strategy used by
// AddAnyPort.
func WithPortSelector(s PortSelector) Option {
	return func(g *Gateway) { g.selectPort = s }
}

// NewGateway reconstructs a Gateway from a previously observed device address
// and control URL, skipping discovery.
func NewGateway(addr netip.AddrPort, controlURL string, opts ...Option) *Gateway {
	g := &Gateway{
		addr:       addr,
		controlURL: controlURL,
		transport:  defaultTransport,
		selectPort: randomPort,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Addr returns the IPv4 address and port of the gateway device.
func (g *Gateway) Addr() netip.AddrPort { return g.addr }

// ControlURL returns the path under which SOAP requests are posted.
func (g *Gateway) ControlURL() string { return g.controlURL }

// Equal reports whether both gateways refer to the same control endpoint.
func (g *Gateway) Equal(other *Gateway) bool {
	return other != nil && g.addr == other.addr && g.controlURL == other.controlURL
}

// String returns the full control endpoint URL.
func (g *Gateway) String() string {
	return "http://" + g.addr.String() + g.controlURL
}

// perform posts a SOAP action and classifies the response. okName is the name
// of the element a successful response carries in its body.
func (g *Gateway) perform(ctx context.Context, action, body, okName string) (*requestResponse, error) {
	raw, err := g.transport.PostSOAP(ctx, g.String(), soapAction(action), body)
	if err != nil {
		return nil, fmt.Errorf("posting %s request: %w", action, err)
	}
	return parseResponse(raw, okName)
}

// ExternalIP queries the gateway for its WAN-facing IPv4 address.
func (g *Gateway) ExternalIP(ctx context.Context) (netip.Addr, error) {
	rr, err := g.perform(ctx, "GetExternalIPAddress", getExternalIPMessage(), "GetExternalIPAddressResponse")
	if err != nil {
		return netip.Addr{}, translateGetExternalIPError(err)
	}

	text, err := rr.field("NewExternalIPAddress")
	if err != nil {
		return netip.Addr{}, err
	}
	ip, err := netip.ParseAddr(text)
	if err != nil || !ip.Is4() {
		return netip.Addr{}, &InvalidResponseError{Text: rr.text, Field: "NewExternalIPAddress"}
	}
	return ip, nil
}

// AddPort adds a mapping from a fixed external port to localAddr. Lease
// duration is in seconds, 0 meaning permanent.
func (g *Gateway) AddPort(ctx context.Context, protocol Protocol, externalPort uint16, localAddr netip.AddrPort, leaseDuration uint32, description string) error {
	if externalPort == 0 {
		return ErrExternalPortZeroInvalid
	}
	if localAddr.Port() == 0 {
		return ErrInternalPortZeroInvalid
	}

	err := g.addPortMapping(ctx, protocol, externalPort, localAddr, leaseDuration, description)
	if err != nil {
		return translateAddPortError(err)
	}
	return nil
}

// RemovePort removes the mapping for the given protocol and external port.
func (g *Gateway) RemovePort(ctx context.Context, protocol Protocol, externalPort uint16) error {
	_, err := g.perform(ctx, "DeletePortMapping", deletePortMappingMessage(protocol, externalPort), "DeletePortMappingResponse")
	if err != nil {
		return translateRemovePortError(err)
	}
	return nil
}

// AddAnyPort maps some free external port to localAddr and returns the port
// the gateway chose. It first tries the single-step AddAnyPortMapping action;
// gateways that do not implement it fall back to a bounded retry of
// AddPortMapping with fresh random candidate ports, switching to a single
// same-port attempt when the gateway requires equal internal and external
// ports.
func (g *Gateway) AddAnyPort(ctx context.Context, protocol Protocol, localAddr netip.AddrPort, leaseDuration uint32, description string) (uint16, error) {
	if localAddr.Port() == 0 {
		return 0, ErrInternalPortZeroInvalid
	}

	externalPort := g.selectPort()
	rr, err := g.perform(ctx, "AddAnyPortMapping",
		addAnyPortMappingMessage(protocol, externalPort, localAddr, leaseDuration, description),
		"AddAnyPortMappingResponse")
	if err == nil {
		return parseReservedPort(rr)
	}

	code, ok := errorCode(err)
	if !ok {
		return 0, err
	}
	switch code {
	case codeInvalidAction:
		// The gateway does not implement AddAnyPortMapping.
		return g.addRandomPortMapping(ctx, protocol, localAddr, leaseDuration, description)
	case codeArgumentValueTooLong:
		return 0, ErrDescriptionTooLong
	case codeActionNotAuthorized:
		return 0, ErrActionNotAuthorized
	case codeNoPortMapsAvailable:
		return 0, ErrNoPortsAvailable
	}
	return 0, err
}

func parseReservedPort(rr *requestResponse) (uint16, error) {
	text, err := rr.field("NewReservedPort")
	if err != nil {
		return 0, err
	}
	port, perr := strconv.ParseUint(text, 10, 16)
	if perr != nil || port == 0 {
		return 0, &InvalidResponseError{Text: rr.text, Field: "NewReservedPort"}
	}
	return uint16(port), nil
}

// addRandomPortMapping is the AddPortMapping fallback of AddAnyPort. Each
// attempt draws a fresh random external port; only a mapping conflict
// consumes the retry budget.
func (g *Gateway) addRandomPortMapping(ctx context.Context, protocol Protocol, localAddr netip.AddrPort, leaseDuration uint32, description string) (uint16, error) {
	log := zerolog.Ctx(ctx)

	for attempt := 0; attempt < maxAddAnyPortRetries; attempt++ {
		externalPort := g.selectPort()
		err := g.addPortMapping(ctx, protocol, externalPort, localAddr, leaseDuration, description)
		if err == nil {
			return externalPort, nil
		}

		code, ok := errorCode(err)
		if !ok {
			return 0, err
		}
		switch code {
		case codeConflictInMappingEntry:
			log.Debug().
				Uint16("external-port", externalPort).
				Int("attempt", attempt+1).
				Msg("candidate port in use, retrying")
			continue
		case codeSamePortValuesRequired:
			return g.addSamePortMapping(ctx, protocol, localAddr, leaseDuration, description)
		case codeArgumentValueTooLong:
			return 0, ErrDescriptionTooLong
		case codeActionNotAuthorized:
			return 0, ErrActionNotAuthorized
		case codeOnlyPermanentLeases:
			return 0, ErrOnlyPermanentLeasesSupported
		}
		return 0, err
	}

	return 0, ErrNoPortsAvailable
}

// addSamePortMapping is attempted exactly once: there is only one possible
// external port when the gateway requires it to equal the internal port.
func (g *Gateway) addSamePortMapping(ctx context.Context, protocol Protocol, localAddr netip.AddrPort, leaseDuration uint32, description string) (uint16, error) {
	err := g.addPortMapping(ctx, protocol, localAddr.Port(), localAddr, leaseDuration, description)
	if err == nil {
		return localAddr.Port(), nil
	}

	code, ok := errorCode(err)
	if !ok {
		return 0, err
	}
	switch code {
	case codeActionNotAuthorized:
		return 0, ErrActionNotAuthorized
	case codeConflictInMappingEntry:
		return 0, ErrExternalPortInUse
	case codeOnlyPermanentLeases:
		return 0, ErrOnlyPermanentLeasesSupported
	}
	return 0, err
}

func (g *Gateway) addPortMapping(ctx context.Context, protocol Protocol, externalPort uint16, localAddr netip.AddrPort, leaseDuration uint32, description string) error {
	_, err := g.perform(ctx, "AddPortMapping",
		addPortMappingMessage(protocol, externalPort, localAddr, leaseDuration, description),
		"AddPortMappingResponse")
	return err
}

// AnyAddress combines ExternalIP and AddAnyPort, returning the full external
// address under which localAddr is now reachable. Errors from the external IP
// query are reported in AddAnyPort's terms.
func (g *Gateway) AnyAddress(ctx context.Context, protocol Protocol, localAddr netip.AddrPort, leaseDuration uint32, description string) (netip.AddrPort, error) {
	ip, err := g.ExternalIP(ctx)
	if err != nil {
		if errors.Is(err, ErrActionNotAuthorized) {
			return netip.AddrPort{}, ErrActionNotAuthorized
		}
		return netip.AddrPort{}, fmt.Errorf("querying external ip: %w", err)
	}

	port, err := g.AddAnyPort(ctx, protocol, localAddr, leaseDuration, description)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(ip, port), nil
}

// PortMappingEntry is a mapping as reported by the gateway.
type PortMappingEntry struct {
	RemoteHost     string
	ExternalPort   uint16
	Protocol       Protocol
	InternalPort   uint16
	InternalClient netip.Addr
	Enabled        bool
	Description    string
	LeaseDuration  uint32
}

// PortMappingEntryByIndex reads the index-th entry of the gateway's port
// mapping table. ErrSpecifiedArrayIndexInvalid marks the end of the table.
func (g *Gateway) PortMappingEntryByIndex(ctx context.Context, index uint32) (*PortMappingEntry, error) {
	rr, err := g.perform(ctx, "GetGenericPortMappingEntry",
		getGenericPortMappingEntryMessage(index),
		"GetGenericPortMappingEntryResponse")
	if err != nil {
		return nil, translatePortMappingEntryError(err)
	}
	return parsePortMappingEntry(rr)
}

// parsePortMappingEntry validates and converts every field of a
// GetGenericPortMappingEntry response. Each missing or malformed field is
// reported as its own field-named invalid response.
func parsePortMappingEntry(rr *requestResponse) (*PortMappingEntry, error) {
	var entry PortMappingEntry

	invalid := func(field string) error {
		return &InvalidResponseError{Text: rr.text, Field: field}
	}

	text, err := rr.field("NewRemoteHost")
	if err != nil {
		return nil, err
	}
	entry.RemoteHost = text

	if text, err = rr.field("NewExternalPort"); err != nil {
		return nil, err
	}
	port, perr := strconv.ParseUint(text, 10, 16)
	if perr != nil {
		return nil, invalid("NewExternalPort")
	}
	entry.ExternalPort = uint16(port)

	if text, err = rr.field("NewProtocol"); err != nil {
		return nil, err
	}
	switch text {
	case "TCP":
		entry.Protocol = TCP
	case "UDP":
		entry.Protocol = UDP
	default:
		return nil, invalid("NewProtocol")
	}

	if text, err = rr.field("NewInternalPort"); err != nil {
		return nil, err
	}
	if port, perr = strconv.ParseUint(text, 10, 16); perr != nil {
		return nil, invalid("NewInternalPort")
	}
	entry.InternalPort = uint16(port)

	if text, err = rr.field("NewInternalClient"); err != nil {
		return nil, err
	}
	client, perr := netip.ParseAddr(text)
	if perr != nil {
		return nil, invalid("NewInternalClient")
	}
	entry.InternalClient = client

	if text, err = rr.field("NewEnabled"); err != nil {
		return nil, err
	}
	switch text {
	case "0":
		entry.Enabled = false
	case "1":
		entry.Enabled = true
	default:
		return nil, invalid("NewEnabled")
	}

	if entry.Description, err = rr.field("NewPortMappingDescription"); err != nil {
		return nil, err
	}

	if text, err = rr.field("NewLeaseDuration"); err != nil {
		return nil, err
	}
	lease, perr := strconv.ParseUint(text, 10, 32)
	if perr != nil {
		return nil, invalid("NewLeaseDuration")
	}
	entry.LeaseDuration = uint32(lease)

	return &entry, nil
}

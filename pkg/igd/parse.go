package igd

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// requestResponse pairs the raw response text with the inner XML of the
// success element, keeping enough context to build a diagnostic error if a
// later field extraction fails.
type requestResponse struct {
	text string
	body []byte
}

type soapEnvelope struct {
	XMLName xml.Name
	Body    *soapBody `xml:"Body"`
}

type soapBody struct {
	Fault *soapFault `xml:"Fault"`
	Inner []byte     `xml:",innerxml"`
}

type soapFault struct {
	Detail struct {
		UPnPError *soapUPnPError `xml:"UPnPError"`
	} `xml:"detail"`
}

type soapUPnPError struct {
	Code        string `xml:"errorCode"`
	Description string `xml:"errorDescription"`
}

// parseResponse classifies a SOAP response body. It returns the subtree of
// the element named okName on success, a *UPnPError when the body carries a
// well-formed fault, and a *InvalidResponseError for everything else.
func parseResponse(raw []byte, okName string) (*requestResponse, error) {
	var env soapEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil || env.Body == nil {
		return nil, &InvalidResponseError{Text: string(raw)}
	}

	if inner, ok := findElement(env.Body.Inner, okName); ok {
		return &requestResponse{text: string(raw), body: inner}, nil
	}

	if f := env.Body.Fault; f != nil && f.Detail.UPnPError != nil {
		ue := f.Detail.UPnPError
		code, err := strconv.ParseUint(strings.TrimSpace(ue.Code), 10, 16)
		if err == nil {
			return nil, &UPnPError{Code: uint16(code), Description: ue.Description}
		}
	}

	return nil, &InvalidResponseError{Text: string(raw)}
}

// field extracts the text of a direct child element of the success subtree.
func (rr *requestResponse) field(name string) (string, error) {
	text, ok := findElementText(rr.body, name)
	if !ok {
		return "", &InvalidResponseError{Text: rr.text, Field: name}
	}
	return text, nil
}

// findElement scans the top-level elements of a fragment for one whose local
// name matches and returns its inner XML.
func findElement(fragment []byte, name string) ([]byte, bool) {
	dec := xml.NewDecoder(bytes.NewReader(fragment))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local == name {
			var el struct {
				Inner []byte `xml:",innerxml"`
			}
			if err := dec.DecodeElement(&el, &se); err != nil {
				return nil, false
			}
			return el.Inner, true
		}
		if err := dec.Skip(); err != nil {
			return nil, false
		}
	}
}

func findElementText(fragment []byte, name string) (string, bool) {
	dec := xml.NewDecoder(bytes.NewReader(fragment))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local == name {
			var el struct {
				Text string `xml:",chardata"`
			}
			if err := dec.DecodeElement(&el, &se); err != nil {
				return "", false
			}
			return strings.TrimSpace(el.Text), true
		}
		if err := dec.Skip(); err != nil {
			return "", false
		}
	}
}

// parseSearchResponse extracts the device address and description path out of
// an SSDP datagram. The LOCATION header is matched case-insensitively.
func parseSearchResponse(data []byte) (netip.AddrPort, string, error) {
	if !utf8.Valid(data) {
		return netip.AddrPort{}, "", fmt.Errorf("search response is not valid UTF-8")
	}

	for _, line := range strings.Split(string(data), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "location") {
			continue
		}

		u, err := url.Parse(strings.TrimSpace(value))
		if err != nil {
			return netip.AddrPort{}, "", fmt.Errorf("parsing location url: %w", err)
		}
		if u.Scheme != "http" {
			return netip.AddrPort{}, "", fmt.Errorf("unsupported location scheme %q", u.Scheme)
		}

		host := u.Host
		if u.Port() == "" {
			host += ":80"
		}
		addr, err := netip.ParseAddrPort(host)
		if err != nil {
			return netip.AddrPort{}, "", fmt.Errorf("parsing location host: %w", err)
		}
		if !addr.Addr().Is4() {
			return netip.AddrPort{}, "", fmt.Errorf("unsupported non-IPv4 gateway address %s", addr)
		}

		path := u.Path
		if path == "" {
			path = "/"
		}
		return addr, path, nil
	}

	return netip.AddrPort{}, "", fmt.Errorf("search response has no location header")
}

type descriptionRoot struct {
	Device deviceDescription `xml:"device"`
}

type deviceDescription struct {
	DeviceType string               `xml:"deviceType"`
	Services   []serviceDescription `xml:"serviceList>service"`
	Devices    []deviceDescription  `xml:"deviceList>device"`
}

type serviceDescription struct {
	Type       string `xml:"serviceType"`
	ControlURL string `xml:"controlURL"`
}

// parseControlURL resolves the control URL of the WAN connection service out
// of a device description document.
func parseControlURL(body []byte) (string, error) {
	var root descriptionRoot
	if err := xml.Unmarshal(body, &root); err != nil {
		return "", fmt.Errorf("parsing device description: %w", err)
	}
	if u, ok := scanDevice(&root.Device); ok {
		return u, nil
	}
	return "", ErrServiceNotFound
}

// scanDevice walks the device tree depth-first. At each node the IP
// connection service wins over the PPP connection service; a service with an
// empty control URL is treated as no match.
func scanDevice(d *deviceDescription) (string, bool) {
	var ppp string
	for _, s := range d.Services {
		controlURL := strings.TrimSpace(s.ControlURL)
		if controlURL == "" {
			continue
		}
		switch strings.TrimSpace(s.Type) {
		case serviceWANIPConnection:
			return controlURL, true
		case serviceWANPPPConnection:
			if ppp == "" {
				ppp = controlURL
			}
		}
	}
	if ppp != "" {
		return ppp, true
	}

	for i := range d.Devices {
		if u, ok := scanDevice(&d.Devices[i]); ok {
			return u, true
		}
	}
	return "", false
}

package igd

import (
	"fmt"
	"net/netip"
)

// SSDP M-SEARCH payload sent to the multicast group. The ST header restricts
// responses to internet gateway devices.
const searchRequest = "M-SEARCH * HTTP/1.1\r\n" +
	"Host:239.255.255.250:1900\r\n" +
	"ST:" + deviceInternetGateway + "\r\n" +
	"Man:\"ssdp:discover\"\r\n" +
	"MX:3\r\n\r\n"

const (
	messageHead = `<?xml version="1.0"?>
<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
<s:Body>`
	messageTail = `</s:Body>
</s:Envelope>`
)

// soapAction builds the SOAPAction header value, quotes included. The
// WANIPConnection urn is used even when the control URL came from a PPP
// connection service; gateways accept this and it matches observed behavior.
func soapAction(action string) string {
	return fmt.Sprintf("%q", serviceWANIPConnection+"#"+action)
}

func formatMessage(body string) string {
	return messageHead + body + messageTail
}

func getExternalIPMessage() string {
	return formatMessage(fmt.Sprintf(`
<u:GetExternalIPAddress xmlns:u=%q>
</u:GetExternalIPAddress>`, serviceWANIPConnection))
}

func addAnyPortMappingMessage(protocol Protocol, externalPort uint16, localAddr netip.AddrPort, leaseDuration uint32, description string) string {
	return formatMessage(fmt.Sprintf(`
<u:AddAnyPortMapping xmlns:u=%q>
<NewProtocol>%s</NewProtocol>
<NewExternalPort>%d</NewExternalPort>
<NewInternalClient>%s</NewInternalClient>
<NewInternalPort>%d</NewInternalPort>
<NewLeaseDuration>%d</NewLeaseDuration>
<NewPortMappingDescription>%s</NewPortMappingDescription>
<NewEnabled>1</NewEnabled>
<NewRemoteHost></NewRemoteHost>
</u:AddAnyPortMapping>`,
		serviceWANIPConnection,
		protocol,
		externalPort,
		localAddr.Addr(),
		localAddr.Port(),
		leaseDuration,
		description,
	))
}

func addPortMappingMessage(protocol Protocol, externalPort uint16, localAddr netip.AddrPort, leaseDuration uint32, description string) string {
	return formatMessage(fmt.Sprintf(`
<u:AddPortMapping xmlns:u=%q>
<NewProtocol>%s</NewProtocol>
<NewExternalPort>%d</NewExternalPort>
<NewInternalClient>%s</NewInternalClient>
<NewInternalPort>%d</NewInternalPort>
<NewLeaseDuration>%d</NewLeaseDuration>
<NewPortMappingDescription>%s</NewPortMappingDescription>
<NewEnabled>1</NewEnabled>
<NewRemoteHost></NewRemoteHost>
</u:AddPortMapping>`,
		serviceWANIPConnection,
		protocol,
		externalPort,
		localAddr.Addr(),
		localAddr.Port(),
		leaseDuration,
		description,
	))
}

func deletePortMappingMessage(protocol Protocol, externalPort uint16) string {
	return formatMessage(fmt.Sprintf(`
<u:DeletePortMapping xmlns:u=%q>
<NewProtocol>%s</NewProtocol>
<NewExternalPort>%d</NewExternalPort>
<NewRemoteHost></NewRemoteHost>
</u:DeletePortMapping>`,
		serviceWANIPConnection,
		protocol,
		externalPort,
	))
}

func getGenericPortMappingEntryMessage(index uint32) string {
	return formatMessage(fmt.Sprintf(`
<u:GetGenericPortMappingEntry xmlns:u=%q>
<NewPortMappingIndex>%d</NewPortMappingIndex>
</u:GetGenericPortMappingEntry>`,
		serviceWANIPConnection,
		index,
	))
}

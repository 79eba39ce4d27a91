package igd

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startSSDPResponder stands in for the SSDP multicast group on loopback. It
// waits for one search request and answers the sender with the scripted
// datagrams. Tests point SearchOptions.BroadcastAddr at the returned address.
func startSSDPResponder(t *testing.T, replies ...string) netip.AddrPort {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, maxSSDPResponseSize)
		_, sender, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		for _, reply := range replies {
			if _, err := conn.WriteTo([]byte(reply), sender); err != nil {
				return
			}
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func ssdpReply(location string) string {
	return "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age=120\r\n" +
		"ST: urn:schemas-upnp-org:device:InternetGatewayDevice:1\r\n" +
		"LOCATION: " + location + "\r\n" +
		"\r\n"
}

// startDescriptionServer serves the nested device description document used by
// the parser tests, so searches resolve to the control URL /ctl/IPConn.
func startDescriptionServer(t *testing.T) (*httptest.Server, netip.AddrPort) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rootDesc.xml" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, deviceDescriptionDoc)
	}))
	t.Cleanup(server.Close)

	addr := netip.MustParseAddrPort(strings.TrimPrefix(server.URL, "http://"))
	return server, addr
}

func loopbackSearchOptions(broadcast netip.AddrPort) SearchOptions {
	return SearchOptions{
		BindAddr:      netip.MustParseAddrPort("127.0.0.1:0"),
		BroadcastAddr: broadcast,
		Timeout:       3 * time.Second,
	}
}

func TestSearchGatewayWith(t *testing.T) {
	server, serverAddr := startDescriptionServer(t)
	responder := startSSDPResponder(t, ssdpReply(server.URL+"/rootDesc.xml"))

	gw, err := SearchGatewayWith(context.Background(), loopbackSearchOptions(responder))
	require.NoError(t, err)

	assert.Equal(t, serverAddr, gw.Addr())
	assert.Equal(t, "/ctl/IPConn", gw.ControlURL())
}

func TestSearchGatewayWith_SkipsUnusableResponses(t *testing.T) {
	server, serverAddr := startDescriptionServer(t)
	responder := startSSDPResponder(t,
		"not an ssdp response at all",
		ssdpReply(server.URL+"/missing.xml"),
		ssdpReply(server.URL+"/rootDesc.xml"),
	)

	gw, err := SearchGatewayWith(context.Background(), loopbackSearchOptions(responder))
	require.NoError(t, err)

	assert.Equal(t, serverAddr, gw.Addr())
	assert.Equal(t, "/ctl/IPConn", gw.ControlURL())
}

func TestSearchGatewayWith_Timeout(t *testing.T) {
	// A responder with no replies: the search request goes out and nothing
	// ever comes back.
	responder := startSSDPResponder(t)

	opts := loopbackSearchOptions(responder)
	opts.Timeout = 150 * time.Millisecond

	start := time.Now()
	_, err := SearchGatewayWith(context.Background(), opts)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSearchGatewayWith_ContextCancel(t *testing.T) {
	responder := startSSDPResponder(t)

	opts := loopbackSearchOptions(responder)
	opts.Timeout = 0

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := SearchGatewayWith(ctx, opts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchGateway_ResolvedGatewayNegotiates(t *testing.T) {
	// End to end on loopback: discover the fake gateway, then drive a SOAP
	// action through the control URL the search resolved.
	fake := newFakeGateway(t, func(action, body string) (int, string) {
		return okResponse(action, `<NewExternalIPAddress>203.0.113.9</NewExternalIPAddress>`)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/rootDesc.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, deviceDescriptionDoc)
	})
	mux.HandleFunc("/ctl/IPConn", fake.serveHTTP)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	responder := startSSDPResponder(t, ssdpReply(server.URL+"/rootDesc.xml"))

	gw, err := SearchGatewayWith(context.Background(), loopbackSearchOptions(responder))
	require.NoError(t, err)

	ip, err := gw.ExternalIP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("203.0.113.9"), ip)
}

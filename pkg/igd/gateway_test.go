package igd

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway simulates the SOAP endpoint of a UPnP enabled router. Each
// incoming action is routed to the handle func, which scripts the reply.
type fakeGateway struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	requests []fakeRequest

	handle func(action, body string) (int, string)
}

type fakeRequest struct {
	action string
	body   string
}

func newFakeGateway(t *testing.T, handle func(action, body string) (int, string)) *fakeGateway {
	gw := &fakeGateway{t: t, handle: handle}
	gw.server = httptest.NewServer(http.HandlerFunc(gw.serveHTTP))
	t.Cleanup(gw.server.Close)
	return gw
}

func (gw *fakeGateway) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		gw.t.Errorf("reading request body: %v", err)
	}

	soapAction := r.Header.Get("SOAPAction")
	_, action, ok := strings.Cut(strings.Trim(soapAction, `"`), "#")
	if !ok {
		gw.t.Errorf("malformed SOAPAction header: %q", soapAction)
	}

	gw.mu.Lock()
	gw.requests = append(gw.requests, fakeRequest{action: action, body: string(body)})
	gw.mu.Unlock()

	status, resp := gw.handle(action, string(body))
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp)
}

func (gw *fakeGateway) requestCount(action string) int {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	n := 0
	for _, r := range gw.requests {
		if r.action == action {
			n++
		}
	}
	return n
}

func (gw *fakeGateway) lastRequest() fakeRequest {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.NotEmpty(gw.t, gw.requests)
	return gw.requests[len(gw.requests)-1]
}

// gateway builds an igd.Gateway pointed at the fake.
func (gw *fakeGateway) gateway(opts ...Option) *Gateway {
	addr := netip.MustParseAddrPort(strings.TrimPrefix(gw.server.URL, "http://"))
	return NewGateway(addr, "/ctl/IPConn", opts...)
}

func okResponse(action, inner string) (int, string) {
	return http.StatusOK, envelopeWith(
		`<u:` + action + `Response xmlns:u="` + serviceWANIPConnection + `">` + inner + `</u:` + action + `Response>`)
}

func faultResponse(code, description string) (int, string) {
	return http.StatusInternalServerError, faultWith(code, description)
}

// scriptedPorts returns a PortSelector that replays the given sequence.
func scriptedPorts(t *testing.T, ports ...uint16) PortSelector {
	i := 0
	return func() uint16 {
		require.Less(t, i, len(ports), "port selector exhausted")
		p := ports[i]
		i++
		return p
	}
}

var testLocalAddr = netip.MustParseAddrPort("192.168.1.2:8080")

func TestExternalIP(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		assert.Equal(t, "GetExternalIPAddress", action)
		return okResponse(action, `<NewExternalIPAddress>123.123.123.123</NewExternalIPAddress>`)
	})

	ip, err := gw.gateway().ExternalIP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("123.123.123.123"), ip)
}

func TestExternalIP_NotAuthorized(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		return faultResponse("606", "Action not authorized")
	})

	_, err := gw.gateway().ExternalIP(context.Background())
	assert.ErrorIs(t, err, ErrActionNotAuthorized)
}

func TestExternalIP_MissingAddressField(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		return okResponse(action, ``)
	})

	_, err := gw.gateway().ExternalIP(context.Background())
	var ire *InvalidResponseError
	require.ErrorAs(t, err, &ire)
	assert.Equal(t, "NewExternalIPAddress", ire.Field)
	assert.NotEmpty(t, ire.Text)
}

func TestAddAnyPort_ReservedPort(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		assert.Equal(t, "AddAnyPortMapping", action)
		return okResponse(action, `<NewReservedPort>51234</NewReservedPort>`)
	})

	port, err := gw.gateway().AddAnyPort(context.Background(), TCP, testLocalAddr, 0, "test")
	require.NoError(t, err)
	assert.Equal(t, uint16(51234), port)
}

func TestAddAnyPort_FallbackSucceedsOnThirdRetry(t *testing.T) {
	addPortCalls := 0
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		switch action {
		case "AddAnyPortMapping":
			return faultResponse("401", "Invalid Action")
		case "AddPortMapping":
			addPortCalls++
			if addPortCalls < 3 {
				return faultResponse("718", "ConflictInMappingEntry")
			}
			return okResponse(action, ``)
		}
		t.Errorf("unexpected action %q", action)
		return http.StatusInternalServerError, ""
	})

	g := gw.gateway(WithPortSelector(scriptedPorts(t, 40000, 40001, 40002, 40003)))
	port, err := g.AddAnyPort(context.Background(), TCP, testLocalAddr, 0, "test")
	require.NoError(t, err)

	// 40000 went to AddAnyPortMapping; the third retry drew 40003.
	assert.Equal(t, uint16(40003), port)
	assert.Equal(t, 3, gw.requestCount("AddPortMapping"))
}

func TestAddAnyPort_RetryBound(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		if action == "AddAnyPortMapping" {
			return faultResponse("401", "Invalid Action")
		}
		return faultResponse("718", "ConflictInMappingEntry")
	})

	_, err := gw.gateway().AddAnyPort(context.Background(), TCP, testLocalAddr, 0, "test")
	assert.ErrorIs(t, err, ErrNoPortsAvailable)
	assert.Equal(t, 20, gw.requestCount("AddPortMapping"))
}

func TestAddAnyPort_SamePortFallbackIsSingleShot(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		if action == "AddAnyPortMapping" {
			return faultResponse("401", "Invalid Action")
		}
		if strings.Contains(body, "<NewExternalPort>8080</NewExternalPort>") {
			return faultResponse("718", "ConflictInMappingEntry")
		}
		return faultResponse("724", "SamePortValuesRequired")
	})

	_, err := gw.gateway().AddAnyPort(context.Background(), TCP, testLocalAddr, 0, "test")
	assert.ErrorIs(t, err, ErrExternalPortInUse)

	// One random attempt hit 724, then exactly one same-port follow-up; the
	// remaining retry budget is not consumed.
	assert.Equal(t, 2, gw.requestCount("AddPortMapping"))
	assert.Contains(t, gw.lastRequest().body, "<NewExternalPort>8080</NewExternalPort>")
}

func TestAddAnyPort_SamePortSuccess(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		if action == "AddAnyPortMapping" {
			return faultResponse("401", "Invalid Action")
		}
		if strings.Contains(body, "<NewExternalPort>8080</NewExternalPort>") {
			return okResponse(action, ``)
		}
		return faultResponse("724", "SamePortValuesRequired")
	})

	port, err := gw.gateway().AddAnyPort(context.Background(), TCP, testLocalAddr, 0, "test")
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), port)
}

func TestAddAnyPort_TerminalErrors(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"605", ErrDescriptionTooLong},
		{"606", ErrActionNotAuthorized},
		{"728", ErrNoPortsAvailable},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			gw := newFakeGateway(t, func(action, body string) (int, string) {
				return faultResponse(tc.code, "scripted failure")
			})

			_, err := gw.gateway().AddAnyPort(context.Background(), TCP, testLocalAddr, 0, "test")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAddAnyPort_UnrecognizedCodeIsTerminal(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		return faultResponse("501", "ActionFailed")
	})

	_, err := gw.gateway().AddAnyPort(context.Background(), TCP, testLocalAddr, 0, "test")
	var ue *UPnPError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, uint16(501), ue.Code)
	assert.Equal(t, 1, gw.requestCount("AddAnyPortMapping"))
}

func TestAddAnyPort_InternalPortZero(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		t.Errorf("unexpected request for action %q", action)
		return http.StatusInternalServerError, ""
	})

	local := netip.MustParseAddrPort("192.168.1.2:0")
	_, err := gw.gateway().AddAnyPort(context.Background(), TCP, local, 0, "test")
	assert.ErrorIs(t, err, ErrInternalPortZeroInvalid)
	assert.Empty(t, gw.requests)
}

func TestAddPort_BoundaryRejection(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		t.Errorf("unexpected request for action %q", action)
		return http.StatusInternalServerError, ""
	})
	g := gw.gateway()

	err := g.AddPort(context.Background(), TCP, 0, testLocalAddr, 0, "test")
	assert.ErrorIs(t, err, ErrExternalPortZeroInvalid)

	local := netip.MustParseAddrPort("192.168.1.2:0")
	err = g.AddPort(context.Background(), TCP, 8080, local, 0, "test")
	assert.ErrorIs(t, err, ErrInternalPortZeroInvalid)

	assert.Empty(t, gw.requests)
}

func TestAddPort(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		assert.Equal(t, "AddPortMapping", action)
		assert.Contains(t, body, "<NewExternalPort>9000</NewExternalPort>")
		assert.Contains(t, body, "<NewInternalClient>192.168.1.2</NewInternalClient>")
		assert.Contains(t, body, "<NewInternalPort>8080</NewInternalPort>")
		assert.Contains(t, body, "<NewProtocol>UDP</NewProtocol>")
		return okResponse(action, ``)
	})

	err := gw.gateway().AddPort(context.Background(), UDP, 9000, testLocalAddr, 0, "test")
	require.NoError(t, err)
}

func TestAddPort_ErrorMapping(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"605", ErrDescriptionTooLong},
		{"606", ErrActionNotAuthorized},
		{"718", ErrPortInUse},
		{"724", ErrSamePortValuesRequired},
		{"725", ErrOnlyPermanentLeasesSupported},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			gw := newFakeGateway(t, func(action, body string) (int, string) {
				return faultResponse(tc.code, "scripted failure")
			})

			err := gw.gateway().AddPort(context.Background(), TCP, 9000, testLocalAddr, 0, "test")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRemovePort(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		assert.Equal(t, "DeletePortMapping", action)
		return okResponse(action, ``)
	})

	err := gw.gateway().RemovePort(context.Background(), TCP, 9000)
	require.NoError(t, err)
}

func TestRemovePort_NoSuchMapping(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		return faultResponse("714", "NoSuchEntryInArray")
	})

	err := gw.gateway().RemovePort(context.Background(), TCP, 9000)
	assert.ErrorIs(t, err, ErrNoSuchPortMapping)
}

func TestAnyAddress(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		switch action {
		case "GetExternalIPAddress":
			return okResponse(action, `<NewExternalIPAddress>203.0.113.7</NewExternalIPAddress>`)
		case "AddAnyPortMapping":
			return okResponse(action, `<NewReservedPort>51234</NewReservedPort>`)
		}
		t.Errorf("unexpected action %q", action)
		return http.StatusInternalServerError, ""
	})

	addr, err := gw.gateway().AnyAddress(context.Background(), TCP, testLocalAddr, 0, "test")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("203.0.113.7:51234"), addr)
}

func TestPortMappingEntryByIndex(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		assert.Equal(t, "GetGenericPortMappingEntry", action)
		assert.Contains(t, body, "<NewPortMappingIndex>2</NewPortMappingIndex>")
		return okResponse(action, `
			<NewRemoteHost></NewRemoteHost>
			<NewExternalPort>51234</NewExternalPort>
			<NewProtocol>TCP</NewProtocol>
			<NewInternalPort>8080</NewInternalPort>
			<NewInternalClient>192.168.1.2</NewInternalClient>
			<NewEnabled>1</NewEnabled>
			<NewPortMappingDescription>test</NewPortMappingDescription>
			<NewLeaseDuration>3600</NewLeaseDuration>`)
	})

	entry, err := gw.gateway().PortMappingEntryByIndex(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, &PortMappingEntry{
		RemoteHost:     "",
		ExternalPort:   51234,
		Protocol:       TCP,
		InternalPort:   8080,
		InternalClient: netip.MustParseAddr("192.168.1.2"),
		Enabled:        true,
		Description:    "test",
		LeaseDuration:  3600,
	}, entry)
}

func TestPortMappingEntryByIndex_FieldValidation(t *testing.T) {
	cases := []struct {
		name     string
		override string
		field    string
	}{
		{"bad protocol", `<NewProtocol>ICMP</NewProtocol>`, "NewProtocol"},
		{"bad enabled", `<NewEnabled>yes</NewEnabled>`, "NewEnabled"},
		{"bad port", `<NewExternalPort>70000</NewExternalPort>`, "NewExternalPort"},
	}

	base := map[string]string{
		"NewRemoteHost":             "",
		"NewExternalPort":           "51234",
		"NewProtocol":               "TCP",
		"NewInternalPort":           "8080",
		"NewInternalClient":         "192.168.1.2",
		"NewEnabled":                "1",
		"NewPortMappingDescription": "test",
		"NewLeaseDuration":          "0",
	}
	order := []string{
		"NewRemoteHost", "NewExternalPort", "NewProtocol", "NewInternalPort",
		"NewInternalClient", "NewEnabled", "NewPortMappingDescription", "NewLeaseDuration",
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var inner strings.Builder
			for _, name := range order {
				if name == tc.field {
					inner.WriteString(tc.override)
					continue
				}
				inner.WriteString("<" + name + ">" + base[name] + "</" + name + ">")
			}

			gw := newFakeGateway(t, func(action, body string) (int, string) {
				return okResponse(action, inner.String())
			})

			_, err := gw.gateway().PortMappingEntryByIndex(context.Background(), 0)
			var ire *InvalidResponseError
			require.ErrorAs(t, err, &ire)
			assert.Equal(t, tc.field, ire.Field)
		})
	}
}

func TestPortMappingEntryByIndex_EndOfTable(t *testing.T) {
	gw := newFakeGateway(t, func(action, body string) (int, string) {
		return faultResponse("713", "SpecifiedArrayIndexInvalid")
	})

	_, err := gw.gateway().PortMappingEntryByIndex(context.Background(), 0)
	assert.ErrorIs(t, err, ErrSpecifiedArrayIndexInvalid)
}

func TestGatewayEqual(t *testing.T) {
	addr := netip.MustParseAddrPort("192.168.0.1:5000")

	a := NewGateway(addr, "/ctl/IPConn")
	b := NewGateway(addr, "/ctl/IPConn", WithPortSelector(scriptedPorts(t)))
	c := NewGateway(addr, "/ctl/PPPConn")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
	assert.Equal(t, "http://192.168.0.1:5000/ctl/IPConn", a.String())
}

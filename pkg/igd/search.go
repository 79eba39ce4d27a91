package igd

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSearchTimeout bounds a search started by one of the convenience
// functions, covering both the SSDP round trip and the description fetch.
const DefaultSearchTimeout = 3 * time.Second

// Datagrams larger than this are truncated; SSDP responses fit in a single
// ethernet frame.
const maxSSDPResponseSize = 1500

var defaultBroadcastAddr = netip.AddrPortFrom(netip.AddrFrom4([4]byte{239, 255, 255, 250}), 1900)

// SearchOptions configures a gateway search. The zero value binds to all
// interfaces, broadcasts to the SSDP multicast group and runs until the
// context is done.
type SearchOptions struct {
	// BindAddr is the local address the UDP socket binds to. All interfaces,
	// ephemeral port when zero.
	BindAddr netip.AddrPort

	// BroadcastAddr is where the search datagram is sent.
	// 239.255.255.250:1900 when zero.
	BroadcastAddr netip.AddrPort

	// Timeout bounds the whole search, including the description fetch. No
	// timeout when zero; the context still applies.
	Timeout time.Duration

	// Transport used to fetch device descriptions and later to post SOAP
	// requests on the resolved Gateway. The HTTP default when nil.
	Transport Transport
}

func (o SearchOptions) broadcastAddr() netip.AddrPort {
	if o.BroadcastAddr.IsValid() {
		return o.BroadcastAddr
	}
	return defaultBroadcastAddr
}

func (o SearchOptions) transport() Transport {
	if o.Transport != nil {
		return o.Transport
	}
	return defaultTransport
}

func (o SearchOptions) gatewayOptions() []Option {
	if o.Transport != nil {
		return []Option{WithTransport(o.Transport)}
	}
	return nil
}

// SearchGateway searches on all interfaces with the default timeout.
func SearchGateway(ctx context.Context) (*Gateway, error) {
	return SearchGatewayWith(ctx, SearchOptions{Timeout: DefaultSearchTimeout})
}

// SearchGatewayFrom searches from the interface bound to ip with the default
// timeout.
func SearchGatewayFrom(ctx context.Context, ip netip.Addr) (*Gateway, error) {
	return SearchGatewayWith(ctx, SearchOptions{
		BindAddr: netip.AddrPortFrom(ip, 0),
		Timeout:  DefaultSearchTimeout,
	})
}

// SearchGatewayTimeout searches on all interfaces with the given timeout.
func SearchGatewayTimeout(ctx context.Context, timeout time.Duration) (*Gateway, error) {
	return SearchGatewayWith(ctx, SearchOptions{Timeout: timeout})
}

// SearchGatewayWith performs a blocking search for a gateway. Datagrams that
// do not lead to a resolved control URL are skipped; the first responder
// whose device description yields a WAN connection service wins. The search
// fails when the timeout elapses or the socket errors.
func SearchGatewayWith(ctx context.Context, opts SearchOptions) (*Gateway, error) {
	// Cancelled on return so the deadline watcher in openSearchSocket exits.
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	conn, err := openSearchSocket(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var (
		log = zerolog.Ctx(ctx)
		buf = make([]byte, maxSSDPResponseSize)
	)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("waiting for search responses: %w", err)
		}

		addr, path, err := parseSearchResponse(buf[:n])
		if err != nil {
			log.Debug().Err(err).
				Msg("skipping unusable search response")
			continue
		}

		controlURL, err := fetchControlURL(ctx, opts.transport(), addr, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debug().Err(err).
				Str("gateway", addr.String()).
				Msg("candidate did not resolve, moving on")
			continue
		}

		return NewGateway(addr, controlURL, opts.gatewayOptions()...), nil
	}
}

// openSearchSocket binds the search socket, ties its deadline to the context
// and sends the M-SEARCH datagram.
func openSearchSocket(ctx context.Context, opts SearchOptions) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(opts.BindAddr))
	if err != nil {
		return nil, fmt.Errorf("binding search socket: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting search deadline: %w", err)
		}
	}
	// Unblock pending reads when the context is cancelled early.
	go func() {
		<-ctx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	broadcast := net.UDPAddrFromAddrPort(opts.broadcastAddr())
	if _, err := conn.WriteTo([]byte(searchRequest), broadcast); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending search request: %w", err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("broadcast", broadcast.String()).
		Str("bind", conn.LocalAddr().String()).
		Msg("sent search request")

	return conn, nil
}

func fetchControlURL(ctx context.Context, t Transport, addr netip.AddrPort, path string) (string, error) {
	body, err := t.Fetch(ctx, "http://"+addr.String()+path)
	if err != nil {
		return "", fmt.Errorf("fetching device description: %w", err)
	}
	return parseControlURL(body)
}

package commands

import (
	"context"
	"fmt"
	"net/netip"
	"net/url"

	"github.com/forestnode-io/igdc/pkg/igd"
	network "github.com/forestnode-io/igdc/pkg/net"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// SetSearchFlags registers the discovery flags shared by every command that
// talks to a gateway.
func SetSearchFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.Duration("timeout", igd.DefaultSearchTimeout, "How long to search for a gateway.")
	flags.String("bind", "", `Local address to search from. "auto" picks the interface facing the default route.`)
	flags.Bool("concurrent", false, "Resolve responding devices concurrently instead of one at a time.")
	flags.String("gateway", "", "Skip discovery and use this control endpoint, e.g. http://192.168.1.1:5000/ctl/IPConn.")
}

// ResolveGateway produces the gateway the command should talk to, either by
// reconstructing it from the --gateway flag or by running a search.
func ResolveGateway(ctx context.Context, flags *pflag.FlagSet) (*igd.Gateway, error) {
	if endpoint, _ := flags.GetString("gateway"); endpoint != "" {
		return gatewayFromEndpoint(endpoint)
	}

	var (
		timeout, _ = flags.GetDuration("timeout")
		bind, _    = flags.GetString("bind")

		opts = igd.SearchOptions{Timeout: timeout}
	)
	switch bind {
	case "":
	case "auto":
		ip, err := network.GetSourceIP("", 0)
		if err != nil {
			return nil, fmt.Errorf("picking a bind address: %w", err)
		}
		opts.BindAddr = netip.AddrPortFrom(ip, 0)
	default:
		ip, err := netip.ParseAddr(bind)
		if err != nil {
			return nil, fmt.Errorf("parsing bind address: %w", err)
		}
		opts.BindAddr = netip.AddrPortFrom(ip, 0)
	}

	if concurrent, _ := flags.GetBool("concurrent"); concurrent {
		return igd.SearchGatewayConcurrent(ctx, opts)
	}
	return igd.SearchGatewayWith(ctx, opts)
}

func gatewayFromEndpoint(endpoint string) (*igd.Gateway, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing gateway endpoint: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("unsupported gateway endpoint scheme %q", u.Scheme)
	}

	host := u.Host
	if u.Port() == "" {
		host += ":80"
	}
	addr, err := netip.ParseAddrPort(host)
	if err != nil {
		return nil, fmt.Errorf("parsing gateway endpoint host: %w", err)
	}

	return igd.NewGateway(addr, u.Path), nil
}

// ParseProtocol converts a --protocol flag value.
func ParseProtocol(s string) (igd.Protocol, error) {
	switch s {
	case "tcp", "TCP":
		return igd.TCP, nil
	case "udp", "UDP":
		return igd.UDP, nil
	}
	return "", fmt.Errorf(`protocol must be "tcp" or "udp", got %q`, s)
}

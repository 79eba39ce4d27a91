package add

import (
	"fmt"
	"net/netip"

	"github.com/forestnode-io/igdc/pkg/commands"
	network "github.com/forestnode-io/igdc/pkg/net"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func New() *Cmd {
	return &Cmd{}
}

type Cmd struct {
	cobraCommand *cobra.Command
}

func (c *Cmd) Cobra() *cobra.Command {
	if c.cobraCommand != nil {
		return c.cobraCommand
	}
	c.cobraCommand = &cobra.Command{
		Use:     "add",
		Aliases: []string{"map"},
		Short:   "Add a port mapping",
		Long: `Add a port mapping on the gateway.

With --external-port the mapping uses that exact port. Without it the gateway
negotiates any free external port, which is printed together with the external
IP address.`,
		RunE: c.run,
	}

	flags := c.cobraCommand.Flags()
	flags.String("protocol", "tcp", "Protocol to map, tcp or udp.")
	flags.Uint16("internal-port", 0, "Local port traffic is forwarded to.")
	flags.String("internal-ip", "", "Local address traffic is forwarded to. Defaults to the interface facing the gateway.")
	flags.Uint16("external-port", 0, "External port to request. 0 lets the gateway pick one.")
	flags.Uint32("lease", 0, "Lease duration in seconds. 0 means permanent.")
	flags.String("description", "igdc", "Description stored with the mapping.")

	return c.cobraCommand
}

func (c *Cmd) run(cmd *cobra.Command, args []string) error {
	var (
		ctx   = cmd.Context()
		log   = zerolog.Ctx(ctx)
		flags = cmd.Flags()

		protocolString, _ = flags.GetString("protocol")
		internalPort, _   = flags.GetUint16("internal-port")
		internalIP, _     = flags.GetString("internal-ip")
		externalPort, _   = flags.GetUint16("external-port")
		lease, _          = flags.GetUint32("lease")
		description, _    = flags.GetString("description")
	)

	protocol, err := commands.ParseProtocol(protocolString)
	if err != nil {
		return err
	}
	if internalPort == 0 {
		return fmt.Errorf("--internal-port is required")
	}

	gateway, err := commands.ResolveGateway(ctx, flags)
	if err != nil {
		return fmt.Errorf("searching for gateway: %w", err)
	}

	var localIP netip.Addr
	if internalIP != "" {
		if localIP, err = netip.ParseAddr(internalIP); err != nil {
			return fmt.Errorf("parsing internal ip: %w", err)
		}
	} else {
		if localIP, err = network.GetSourceIP(gateway.Addr().Addr().String(), int(gateway.Addr().Port())); err != nil {
			return fmt.Errorf("picking internal ip: %w", err)
		}
	}
	localAddr := netip.AddrPortFrom(localIP, internalPort)

	if externalPort != 0 {
		if err := gateway.AddPort(ctx, protocol, externalPort, localAddr, lease, description); err != nil {
			return fmt.Errorf("adding port mapping: %w", err)
		}
		log.Info().
			Uint16("external-port", externalPort).
			Str("internal", localAddr.String()).
			Msg("added port mapping")
		fmt.Printf("mapped external port %d to %s/%s\n", externalPort, localAddr, protocol)
		return nil
	}

	externalAddr, err := gateway.AnyAddress(ctx, protocol, localAddr, lease, description)
	if err != nil {
		return fmt.Errorf("adding port mapping: %w", err)
	}
	log.Info().
		Str("external", externalAddr.String()).
		Str("internal", localAddr.String()).
		Msg("added port mapping")
	fmt.Printf("mapped %s to %s/%s\n", externalAddr, localAddr, protocol)
	return nil
}

package remove

import (
	"fmt"

	"github.com/forestnode-io/igdc/pkg/commands"
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
		Use:     "remove",
		Aliases: []string{"unmap"},
		Short:   "Remove a port mapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				ctx   = cmd.Context()
				flags = cmd.Flags()

				protocolString, _ = flags.GetString("protocol")
				externalPort, _   = flags.GetUint16("external-port")
			)

			protocol, err := commands.ParseProtocol(protocolString)
			if err != nil {
				return err
			}
			if externalPort == 0 {
				return fmt.Errorf("--external-port is required")
			}

			gateway, err := commands.ResolveGateway(ctx, flags)
			if err != nil {
				return fmt.Errorf("searching for gateway: %w", err)
			}

			if err := gateway.RemovePort(ctx, protocol, externalPort); err != nil {
				return fmt.Errorf("removing port mapping: %w", err)
			}

			fmt.Printf("removed mapping for external port %d/%s\n", externalPort, protocol)
			return nil
		},
	}

	flags := c.cobraCommand.Flags()
	flags.String("protocol", "tcp", "Protocol of the mapping, tcp or udp.")
	flags.Uint16("external-port", 0, "External port of the mapping to remove.")

	return c.cobraCommand
}

package externalip

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
		Use:   "external-ip",
		Short: "Print the gateway's external IPv4 address",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			gateway, err := commands.ResolveGateway(ctx, cmd.Flags())
			if err != nil {
				return fmt.Errorf("searching for gateway: %w", err)
			}

			ip, err := gateway.ExternalIP(ctx)
			if err != nil {
				return fmt.Errorf("getting external ip: %w", err)
			}

			fmt.Println(ip)
			return nil
		},
	}

	return c.cobraCommand
}

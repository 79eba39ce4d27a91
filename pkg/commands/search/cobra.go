package search

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
		Use:   "search",
		Short: "Discover the internet gateway device on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			gateway, err := commands.ResolveGateway(cmd.Context(), cmd.Flags())
			if err != nil {
				return fmt.Errorf("searching for gateway: %w", err)
			}

			fmt.Printf("gateway: %s\n", gateway.Addr())
			fmt.Printf("control-url: %s\n", gateway.ControlURL())
			return nil
		},
	}

	return c.cobraCommand
}

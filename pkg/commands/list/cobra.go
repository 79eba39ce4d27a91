package list

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/forestnode-io/igdc/pkg/commands"
	"github.com/forestnode-io/igdc/pkg/igd"
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
		Use:   "list",
		Short: "List the gateway's port mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			gateway, err := commands.ResolveGateway(ctx, cmd.Flags())
			if err != nil {
				return fmt.Errorf("searching for gateway: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EXTERNAL\tPROTO\tINTERNAL\tENABLED\tLEASE\tDESCRIPTION")
			for index := uint32(0); ; index++ {
				entry, err := gateway.PortMappingEntryByIndex(ctx, index)
				if errors.Is(err, igd.ErrSpecifiedArrayIndexInvalid) {
					break
				}
				if err != nil {
					return fmt.Errorf("reading port mapping entry %d: %w", index, err)
				}

				fmt.Fprintf(w, "%d\t%s\t%s:%d\t%t\t%d\t%s\n",
					entry.ExternalPort,
					entry.Protocol,
					entry.InternalClient, entry.InternalPort,
					entry.Enabled,
					entry.LeaseDuration,
					entry.Description,
				)
			}
			return w.Flush()
		},
	}

	return c.cobraCommand
}

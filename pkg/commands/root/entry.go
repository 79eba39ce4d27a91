package root

import (
	"context"

	"github.com/forestnode-io/igdc/pkg/commands"
	"github.com/forestnode-io/igdc/pkg/commands/add"
	"github.com/forestnode-io/igdc/pkg/commands/externalip"
	"github.com/forestnode-io/igdc/pkg/commands/list"
	"github.com/forestnode-io/igdc/pkg/commands/remove"
	"github.com/forestnode-io/igdc/pkg/commands/search"
	"github.com/forestnode-io/igdc/pkg/commands/version"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootCommand struct {
	cobra.Command
}

func ExecuteContext(ctx context.Context) error {
	var (
		root rootCommand
		cmd  = &root.Command
	)
	root.Use = "igdc"
	root.Short = "Negotiate port mappings with a UPnP internet gateway"
	root.SilenceUsage = true

	commands.SetSearchFlags(cmd)
	root.setSubCommands()

	err := root.ExecuteContext(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Msg("failed to execute root command")
	}

	return err
}

func (r *rootCommand) setSubCommands() {
	for _, sc := range subCommands() {
		sc.Flags().BoolP("help", "h", false, "Show this help message.")
		r.AddCommand(sc)
	}
}

func subCommands() []*cobra.Command {
	return []*cobra.Command{
		search.New().Cobra(),
		externalip.New().Cobra(),
		add.New().Cobra(),
		remove.New().Cobra(),
		list.New().Cobra(),
		version.New().Cobra(),
	}
}

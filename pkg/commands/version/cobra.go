package version

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/forestnode-io/igdc/pkg/version"
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
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				payload := map[string]string{}
				if ver := version.Version; ver != "" {
					payload["version"] = ver
				}
				if apiVersion := version.APIVersion; apiVersion != "" {
					payload["apiVersion"] = apiVersion
				}
				if license := version.License; license != "" {
					payload["license"] = license
				}

				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(payload); err != nil {
					log.Printf("error encoding json: %v", err)
				}
			} else {
				if ver := version.Version; ver != "" {
					fmt.Printf("version: %s\n", ver)
				}
				if apiVersion := version.APIVersion; apiVersion != "" {
					fmt.Printf("api-version: %s\n", apiVersion)
				}
				if license := version.License; license != "" {
					fmt.Printf("license: %s\n", license)
				}
			}
		},
	}

	c.cobraCommand.Flags().Bool("json", false, "Print the version information as JSON.")

	return c.cobraCommand
}

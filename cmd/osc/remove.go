package main

import (
	"github.com/spf13/cobra"

	"github.com/buildservice-client/osc/wcfs"
)

var removeCmd = &cobra.Command{
	Use:   "remove <name>...",
	Short: "Schedule a tracked file, or a package inside a project, for deletion",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		switch detectKindHere() {
		case wcfs.Project:
			pr := openProjectHere()
			defer pr.Close()
			for _, name := range args {
				if err := pr.RemovePackage(name); err != nil {
					die(err)
				}
			}
		default:
			p := openPackageHere()
			defer p.Close()
			for _, name := range args {
				if err := p.Remove(name); err != nil {
					die(err)
				}
			}
		}
	},
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/buildservice-client/osc/wcfs"
)

var addCmd = &cobra.Command{
	Use:   "add <name>...",
	Short: "Start tracking an untracked file, or a new package inside a project",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		switch detectKindHere() {
		case wcfs.Project:
			pr := openProjectHere()
			defer pr.Close()
			for _, name := range args {
				if _, err := pr.AddPackage(name); err != nil {
					die(err)
				}
			}
		default:
			p := openPackageHere()
			defer p.Close()
			for _, name := range args {
				if err := p.Add(name); err != nil {
					die(err)
				}
			}
		}
	},
}

package main

import (
	"github.com/spf13/cobra"
)

var resolvedCmd = &cobra.Command{
	Use:   "resolved <name>...",
	Short: "Mark conflicted files as resolved",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		p := openPackageHere()
		defer p.Close()
		for _, name := range args {
			if err := p.Resolved(name); err != nil {
				die(err)
			}
		}
	},
}

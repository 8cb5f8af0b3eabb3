package main

import (
	"github.com/spf13/cobra"
)

var revertCmd = &cobra.Command{
	Use:   "revert <name>...",
	Short: "Restore tracked files from their pristine copy, discarding local changes",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		p := openPackageHere()
		defer p.Close()
		for _, name := range args {
			if err := p.Revert(name); err != nil {
				die(err)
			}
		}
	},
}

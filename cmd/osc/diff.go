package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/buildservice-client/osc/diffengine"
)

var diffRevision string

var diffCmd = &cobra.Command{
	Use:   "diff [names...]",
	Short: "Show a unified diff of local changes against the pristine copy or a revision",
	Run: func(cmd *cobra.Command, args []string) {
		p := openPackageHere()
		defer p.Close()
		out, err := diffengine.Diff(p, diffengine.Options{Revision: diffRevision, Names: args})
		if err != nil {
			die(err)
		}
		os.Stdout.Write(out)
	},
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/buildservice-client/osc/project"
	"github.com/buildservice-client/osc/wc"
	"github.com/buildservice-client/osc/wcfs"
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout <project> [package]",
	Short: "Check out a project or a single package into the current directory",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient()
		if len(args) == 1 {
			pr, err := project.Init(".", wcfs.InitOptions{Project: args[0], APIURL: apiurl}, client)
			if err != nil {
				die(err)
			}
			defer pr.Close()
			if err := pr.Update(project.UpdateOptions{
				Listener:        printListener{verb: "A"},
				PackageListener: packageListener("A"),
			}); err != nil {
				die(err)
			}
			return
		}

		p, err := wc.Init(".", wcfs.InitOptions{Project: args[0], Package: args[1], APIURL: apiurl}, client)
		if err != nil {
			die(err)
		}
		defer p.Close()
		if err := p.Update(wc.UpdateOptions{Listener: printListener{verb: "A"}}); err != nil {
			die(err)
		}
	},
}

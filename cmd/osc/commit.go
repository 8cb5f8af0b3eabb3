package main

import (
	"github.com/spf13/cobra"

	"github.com/buildservice-client/osc/project"
	"github.com/buildservice-client/osc/wc"
	"github.com/buildservice-client/osc/wcfs"
)

var commitMessage string

var commitCmd = &cobra.Command{
	Use:   "commit [names...]",
	Short: "Push locally tracked changes to the server",
	Run: func(cmd *cobra.Command, args []string) {
		switch detectKindHere() {
		case wcfs.Project:
			pr := openProjectHere()
			defer pr.Close()
			if err := pr.Commit(project.CommitOptions{
				Names:           args,
				Listener:        printListener{verb: "C"},
				PackageListener: packageListener("C"),
			}); err != nil {
				die(err)
			}
		default:
			p := openPackageHere()
			defer p.Close()
			if err := p.Commit(wc.CommitOptions{
				Names:    args,
				Comment:  commitMessage,
				Listener: printListener{verb: "C"},
			}); err != nil {
				die(err)
			}
		}
	},
}

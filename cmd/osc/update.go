package main

import (
	"github.com/spf13/cobra"

	"github.com/buildservice-client/osc/project"
	"github.com/buildservice-client/osc/wc"
	"github.com/buildservice-client/osc/wcfs"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Bring the working copy in line with the server",
	Run: wrap(func() {
		switch detectKindHere() {
		case wcfs.Project:
			pr := openProjectHere()
			defer pr.Close()
			if err := pr.Update(project.UpdateOptions{
				Listener:        printListener{verb: "U"},
				PackageListener: packageListener("U"),
			}); err != nil {
				die(err)
			}
		default:
			p := openPackageHere()
			defer p.Close()
			if err := p.Update(wc.UpdateOptions{Listener: printListener{verb: "U"}}); err != nil {
				die(err)
			}
		}
	}),
}

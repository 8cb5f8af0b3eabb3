package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/buildservice-client/osc/wcfs"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the working copy's status against its tracked state",
	Run: wrap(func() {
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer tw.Flush()

		switch detectKindHere() {
		case wcfs.Project:
			pr := openProjectHere()
			defer pr.Close()
			names := pr.Packages()
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(tw, "%c\t%s\n", rune(pr.PackageState(name)), name)
			}
		default:
			p := openPackageHere()
			defer p.Close()
			all, err := p.StatusAll()
			if err != nil {
				die(err)
			}
			names := make([]string, 0, len(all))
			for name := range all {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(tw, "%c\t%s\n", rune(all[name]), name)
			}
		}
	}),
}

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/buildservice-client/osc/project"
	"github.com/buildservice-client/osc/wc"
	"github.com/buildservice-client/osc/wcfs"
)

var (
	repairProject string
	repairPackage string
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Reconstruct a minimally-consistent control directory after corruption",
	Run: func(cmd *cobra.Command, args []string) {
		if repairProject == "" {
			die("--project is required")
		}
		root, err := os.Getwd()
		if err != nil {
			die(err)
		}
		client := newClient()
		opts := wcfs.InitOptions{Project: repairProject, Package: repairPackage, APIURL: apiurl}

		if repairPackage == "" {
			pr, err := project.Repair(root, opts, client)
			if err != nil {
				die(err)
			}
			pr.Close()
			return
		}
		p, err := wc.Repair(root, opts, client)
		if err != nil {
			die(err)
		}
		p.Close()
	},
}

func init() {
	repairCmd.Flags().StringVar(&repairProject, "project", "", "project name to restore into the meta files")
	repairCmd.Flags().StringVar(&repairPackage, "package", "", "package name to restore into the meta files (omit to repair a project WC)")
}

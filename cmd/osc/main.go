// Command osc is the CLI for the working copy engine: checkout,
// update, commit, and the other per-WC operations wired straight onto
// package wc/project/diffengine. Argument grammar is intentionally thin
// (a non-goal of the engine itself); this is the reference wiring, not
// a feature-complete client shell.
//
// Grounded on cmd/siac's cobra-based command tree (root command plus
// one cobra.Command per verb, wrap() adapting a plain-string-args
// function into a cobra Run func, die() for a fatal one-line error) and
// its API-password-from-environment convention.
package main

import (
	"fmt"
	"os"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/buildservice-client/osc/remote"
)

var (
	apiurl   string
	user     string
	password string
)

const exitCodeUsage = 64

// die prints its arguments to stderr and exits with a general failure
// code.
func die(args ...interface{}) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(1)
}

// wrap adapts a function taking only string arguments into a cobra
// Run func, exiting with a usage error if the argument count mismatches
// (mirrors cmd/siac's reflect-based wrap).
func wrap(fn interface{}) func(*cobra.Command, []string) {
	fnVal, fnType := reflect.ValueOf(fn), reflect.TypeOf(fn)
	if fnType.Kind() != reflect.Func {
		panic("wrapped function has wrong type signature")
	}
	for i := 0; i < fnType.NumIn(); i++ {
		if fnType.In(i).Kind() != reflect.String {
			panic("wrapped function has wrong type signature")
		}
	}
	return func(cmd *cobra.Command, args []string) {
		if len(args) != fnType.NumIn() {
			cmd.Usage()
			os.Exit(exitCodeUsage)
		}
		argVals := make([]reflect.Value, fnType.NumIn())
		for i := range args {
			argVals[i] = reflect.ValueOf(args[i])
		}
		fnVal.Call(argVals)
	}
}

// resolvePassword returns the configured password, falling back to the
// OSC_PASSWORD environment variable when none was given (the same
// environment-variable fallback cmd/siac uses for SIA_API_PASSWORD, minus
// the prompt since this client is meant to run non-interactively too).
func resolvePassword() string {
	if password != "" {
		return password
	}
	return os.Getenv("OSC_PASSWORD")
}

func newClient() *remote.Client {
	if apiurl == "" {
		die("no API URL configured; pass --apiurl or run this command inside an existing working copy")
	}
	return remote.NewClient(apiurl, user, resolvePassword())
}

func main() {
	root := &cobra.Command{
		Use:   "osc",
		Short: "working copy client for the source-hosting build service",
	}

	root.PersistentFlags().StringVarP(&apiurl, "apiurl", "A", "", "API endpoint (required for checkout; read from the working copy otherwise)")
	root.PersistentFlags().StringVarP(&user, "user", "u", "", "username for authentication")
	root.PersistentFlags().StringVarP(&password, "password", "p", "", "password (falls back to OSC_PASSWORD)")

	root.AddCommand(checkoutCmd)
	root.AddCommand(updateCmd)
	root.AddCommand(commitCmd)
	root.AddCommand(addCmd)
	root.AddCommand(removeCmd)
	root.AddCommand(revertCmd)
	root.AddCommand(resolvedCmd)
	root.AddCommand(statusCmd)
	root.AddCommand(diffCmd)
	root.AddCommand(repairCmd)

	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "commit comment")
	diffCmd.Flags().StringVarP(&diffRevision, "revision", "r", "", "diff against this remote revision instead of the stored pristine copy")

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeUsage)
	}
}

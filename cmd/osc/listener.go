package main

import (
	"fmt"

	"github.com/buildservice-client/osc/notify"
)

// printListener prints one line per processed name, prefixed the way
// cmd/siac reports file-level progress (cmd/siac/rentercmd.go's
// download/upload status lines): a short verb, then the name.
type printListener struct {
	verb string
}

func (l printListener) Begin() error { return nil }

func (l printListener) Transfer() {
	fmt.Println("Transmitting file data...")
}

func (l printListener) Processed(name string) {
	fmt.Printf("%s  %s\n", l.verb, name)
}

func (l printListener) Finished() {}

// packageListener returns a nested-package listener for a project-level
// operation, labelling each line with the package it belongs to.
func packageListener(verb string) func(name string) notify.TransactionListener {
	return func(name string) notify.TransactionListener {
		return printListener{verb: verb + " " + name + ":"}
	}
}

// Package main is the entry point for the nightwatch CLI.
package main

import (
	"github.com/nightwatch-sec/nightwatch/cmd/nightwatch/commands"
)

func main() {
	commands.Execute()
}

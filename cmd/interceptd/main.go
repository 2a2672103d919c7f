// interceptd CLI - command-line interface for the intercepting proxy platform.
package main

import "github.com/interceptd/interceptd/pkg/cli"

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	cli.Version = Version
	cli.Execute()
}

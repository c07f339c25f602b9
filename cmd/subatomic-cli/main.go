// Command subatomic-cli is the administrative client for subatomic-server:
// push packages, manage tags, trigger assembly, and manage signing keys.
package main

import (
	"fmt"
	"os"

	"github.com/FyraLabs/subatomic-ng/pkg/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

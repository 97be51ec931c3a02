// Command fira resolves, browses and edits Fira project boards, and serves
// a projects directory over the Fira HTTP API.
package main

import (
	"os"

	"github.com/mesh-intelligence/fira/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

// Command shelf imports, exports and inspects knowledge objects held in a
// filesystem or Fedora repository store.
package main

import (
	"os"

	"github.com/kgrid/kgrid-shelf-sub000/cmd/shelf/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

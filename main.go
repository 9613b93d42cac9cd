// The main package for the crawlworker executable.
package main

import (
	"github.com/govscout/crawlworker/cmd"
)

func main() {
	cmd.Execute()
}

// The main package for the supportcrawler executable.
package main

import (
	"github.com/bizradar-io/support-crawler/cmd"
)

func main() {
	cmd.Execute()
}

// Command servertiming runs a demo server that reports the time spent in its
// handlers as a Server-Timing header.
package main

import (
	"github.com/sarchlab/servertiming/servertiming/cmd"
	"github.com/tebeka/atexit"
)

func main() {
	cmd.Execute()
	atexit.Exit(0)
}

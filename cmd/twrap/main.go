package main

import (
	"os"

	"github.com/psantana5/twrap/cmd/twrap/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

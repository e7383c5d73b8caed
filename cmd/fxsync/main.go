package main

import (
	"github.com/awnumar/memguard"

	"github.com/jmcleod/fxsync/cmd/fxsync/cmd"
)

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	cmd.Execute()
}

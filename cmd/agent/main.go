package main

import (
	"possync/cmd/agent/cmd"
)

func main() {
	cmd.Execute()
}

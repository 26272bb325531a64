package main

import (
	"github.com/wafleet/sessionfleet/cmd"
)

func main() {
	cmd.Execute()
}

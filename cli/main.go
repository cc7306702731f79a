package main

import (
	"ocm.software/open-component-model/hangar/cli/cmd"
)

func main() {
	cmd.Execute()
}

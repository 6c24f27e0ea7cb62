package main

import (
	"ocm.software/open-component-model/pluginhub/internal/cmd"
)

func main() {
	cmd.Execute()
}

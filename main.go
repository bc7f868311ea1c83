package main

import (
	"github.com/luma/relay/cmd"
)

func main() {
	cmd.Execute()
}

package main

import (
	"github.com/BioHazard786/warpmeet/cmd"
)

func main() {
	cmd.Execute()
}

package main

import (
	"fmt"
	"os"
)

const appName = "bmo-agent"

var version = "dev"

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

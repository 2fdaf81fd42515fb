package main

import (
	"os"

	"github.com/nhle/mailhistory/cmd/mailhistory/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

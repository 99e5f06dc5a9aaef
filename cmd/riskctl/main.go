package main

import (
	"os"

	"github.com/GoPolymarket/polyguard/cmd/riskctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/syncroom/syncroom/chat/internal/cmd"
)

var version = "dev"

func main() {
	if err := cmd.Execute(version); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

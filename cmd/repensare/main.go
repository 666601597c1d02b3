package main

import (
	"fmt"
	"os"

	"github.com/tillberg/autorestart"

	"github.com/KevenMor/repensare-sub001/internal/cli"
)

func main() {
	// Development only: re-exec when the binary on disk changes.
	if os.Getenv("REPENSARE_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

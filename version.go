package main

import (
	"fmt"

	"github.com/currents-hub/currents/internal/version"
)

func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}

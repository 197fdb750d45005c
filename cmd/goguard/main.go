// Command goguard runs and operates the adaptive session engine: a demo admin
// server, store maintenance, audit-store migrations and reports.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

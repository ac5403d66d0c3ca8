// Command kuractl is the operator CLI of Kura: it inspects and adjusts collection counters
// and issues admin tokens for the HTTP administration API.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

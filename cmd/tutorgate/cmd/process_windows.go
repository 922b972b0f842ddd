//go:build windows

package cmd

import "os"

// gracefulSignals returns the signals that trigger graceful shutdown on Windows.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

//go:build windows

package cmd

import "os"

// notifyResume returns a channel that never fires; Windows has no SIGCONT
func notifyResume() chan os.Signal {
	return make(chan os.Signal, 1)
}

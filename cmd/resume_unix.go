//go:build !windows

package cmd

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyResume delivers SIGCONT, sent when a stopped process is resumed
func notifyResume() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGCONT)
	return ch
}

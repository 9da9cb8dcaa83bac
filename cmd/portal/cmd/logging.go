package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/client9/reopen"
	log "github.com/sirupsen/logrus"
)

// configureLogging sets the level and format of the standard logger
func configureLogging(level, format string) error {

	l, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("log level can be trace, debug, info, warn, error, fatal or panic but not %s", level)
	}
	log.SetLevel(l)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{})
	default:
		return fmt.Errorf("log format can be json or text but not %s", format)
	}

	return nil
}

// logOutput returns stdout, or the named file. A file is reopened on
// SIGHUP so that it can be rotated. Call the returned function to stop
// watching for SIGHUP.
func logOutput(name string) (io.Writer, func(), error) {

	if name == "" || strings.ToLower(name) == "stdout" {
		return os.Stdout, func() {}, nil
	}

	f, err := reopen.NewFileWriter(name)
	if err != nil {
		return nil, nil, err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-hup:
				if err := f.Reopen(); err != nil {
					fmt.Fprintf(os.Stderr, "could not reopen log file %s: %s\n", name, err.Error())
				}
			}
		}
	}()

	return f, func() {
		signal.Stop(hup)
		close(done)
	}, nil
}

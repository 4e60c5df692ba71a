// slopesort organizes race photographs into per-subject directories
// using an external vision service, either against a registered roster
// or by automatic outfit clustering.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// Exit codes.
const (
	exitOK      = 0
	exitUser    = 1 // bad path, bad flag, missing config
	exitVision  = 2 // fatal vision backend error, never retried
	exitPartial = 3 // run completed with at least one failure
)

// exitErr carries a specific process exit code up to main.
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }

func exitf(code int, format string, args ...any) error {
	return &exitErr{code: code, err: fmt.Errorf(format, args...)}
}

func main() {
	klog.InitFlags(nil)

	root := &cobra.Command{
		Use:           "slopesort",
		Short:         "Organize photos into per-subject directories using a vision model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	root.AddCommand(newOrganizeCmd(), newDatabaseCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ee *exitErr
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitUser)
	}
}

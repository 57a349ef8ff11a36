package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errBadArgument = errors.New("bad argument")

// readPassword is a test seam for term.ReadPassword.
var (
	defaultReadPassword = term.ReadPassword
	readPassword        = defaultReadPassword
)

// passwordFlags are the ways a command accepts a raw password.
type passwordFlags struct {
	value string
	stdin bool
}

func (p *passwordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.value, "password", "", "raw password (visible in process listings, prefer --password-stdin)")
	cmd.Flags().BoolVar(&p.stdin, "password-stdin", false, "read the password from stdin")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
}

// read returns the password and whether one was supplied. With prompt set
// and stdin attached to a terminal, the user is asked for it without echo.
func (p *passwordFlags) read(cmd *cobra.Command, prompt bool) (string, bool, error) {
	switch {
	case p.stdin:
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", false, fmt.Errorf("reading password from stdin: %w", err)
		}
		return strings.TrimRight(string(b), "\r\n"), true, nil

	case cmd.Flags().Changed("password"):
		return p.value, true, nil

	case prompt:
		f, ok := cmd.InOrStdin().(*os.File)
		if !ok || !term.IsTerminal(int(f.Fd())) {
			return "", false, nil
		}
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		pw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", false, fmt.Errorf("reading password: %w", err)
		}
		return string(pw), true, nil
	}

	return "", false, nil
}

// Package cli is the operator command line for the users store.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/userstore/internal/users/app"
	"github.com/aussiebroadwan/userstore/internal/users/domain"
	"github.com/aussiebroadwan/userstore/internal/users/service"
	"github.com/aussiebroadwan/userstore/pkg/idx"
	"github.com/aussiebroadwan/userstore/pkg/slogx"
)

// Exit codes returned by Execute.
const (
	ExitOK = iota
	ExitError
	ExitInvalidInput
	ExitNotFound
	ExitConflict
	ExitUnauthorized
)

type runFunc func(ctx context.Context, a *app.Application, cmd *cobra.Command, args []string) error

type root struct {
	autoMigrate bool
	opID        string
}

// NewRootCommand builds the users command tree. Configuration comes from the
// environment (see app.LoadConfig).
func NewRootCommand() *cobra.Command {
	r := &root{}

	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user records and their credentials",
		Long: `Manage user records stored in SQLite or Postgres. Passwords are
validated and hashed before they are written and are never printed.

	users create --username alice --email alice@example.com
	users verify --email alice@example.com --password-stdin < secret.txt
`,
		Version:       app.BuildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVar(&r.autoMigrate, "auto-migrate", true, "apply pending migrations before running the command")
	cmd.PersistentFlags().StringVar(&r.opID, "op-id", "", "operation id (ULID) attached to log lines; generated when empty")

	cmd.AddCommand(
		r.migrateCommand(),
		r.createCommand(),
		r.updateCommand(),
		r.deleteCommand(),
		r.showCommand(),
		r.listCommand(),
		r.verifyCommand(),
	)
	return cmd
}

// Execute runs the command tree against the process arguments and returns
// the exit code.
func Execute(ctx context.Context) int {
	cmd := NewRootCommand()

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "users: %v\n", err)
	return exitCode(err)
}

// run opens the application for the duration of one command and tags the
// context with a fresh operation id.
func (r *root) run(fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		opID := idx.New()
		if r.opID != "" {
			parsed, err := idx.Parse(r.opID)
			if err != nil {
				return fmt.Errorf("%w: --op-id: %w", errBadArgument, err)
			}
			opID = parsed
		}

		a, err := app.New(ctx, app.LoadConfig(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		if r.autoMigrate {
			if err := a.Migrate(); err != nil {
				return err
			}
		}

		ctx = slogx.WithContext(ctx, a.Logger())
		ctx = slogx.WithOperationID(ctx, opID.String())
		return fn(ctx, a, cmd, args)
	}
}

func exitCode(err error) int {
	switch {
	case domain.IsValidation(err), errors.Is(err, service.ErrNothingToUpdate), errors.Is(err, errBadArgument):
		return ExitInvalidInput
	case errors.Is(err, domain.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, domain.ErrDuplicateEmail):
		return ExitConflict
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrTooManyAttempts):
		return ExitUnauthorized
	default:
		return ExitError
	}
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/userstore/internal/users/app"
	"github.com/aussiebroadwan/userstore/internal/users/domain"
)

// userView is the printable form of a user. The password hash is left out.
type userView struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toView(u domain.User) userView {
	return userView{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid user id %q", errBadArgument, s)
	}
	return id, nil
}

func (r *root) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: r.run(func(ctx context.Context, a *app.Application, cmd *cobra.Command, _ []string) error {
			// run already migrated unless --auto-migrate=false
			if !r.autoMigrate {
				if err := a.Migrate(); err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "up to date"})
		}),
	}
}

func (r *root) createCommand() *cobra.Command {
	var (
		fields   domain.UserFields
		password passwordFlags
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: r.run(func(ctx context.Context, a *app.Application, cmd *cobra.Command, _ []string) error {
			pw, _, err := password.read(cmd, true)
			if err != nil {
				return err
			}
			fields.Password = pw

			u, err := a.Users.Register(ctx, fields)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), toView(u))
		}),
	}
	cmd.Flags().StringVar(&fields.Username, "username", "", "username")
	cmd.Flags().StringVar(&fields.Email, "email", "", "email address, unique ignoring case")
	password.register(cmd)
	return cmd
}

func (r *root) updateCommand() *cobra.Command {
	var (
		username, email string
		password        passwordFlags
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a user; only the given fields change",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(ctx context.Context, a *app.Application, cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			var upd domain.UserUpdate
			if cmd.Flags().Changed("username") {
				upd.Username = &username
			}
			if cmd.Flags().Changed("email") {
				upd.Email = &email
			}
			pw, ok, err := password.read(cmd, false)
			if err != nil {
				return err
			}
			if ok {
				upd.Password = &pw
			}

			u, err := a.Users.Update(ctx, id, upd)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), toView(u))
		}),
	}
	cmd.Flags().StringVar(&username, "username", "", "new username")
	cmd.Flags().StringVar(&email, "email", "", "new email address")
	password.register(cmd)
	return cmd
}

func (r *root) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(ctx context.Context, a *app.Application, cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.Users.Delete(ctx, id); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]int64{"deleted": id})
		}),
	}
}

func (r *root) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|email>",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(ctx context.Context, a *app.Application, cmd *cobra.Command, args []string) error {
			var (
				u   domain.User
				err error
			)
			if id, perr := strconv.ParseInt(args[0], 10, 64); perr == nil {
				u, err = a.Users.Get(ctx, id)
			} else {
				u, err = a.Users.GetByEmail(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), toView(u))
		}),
	}
}

func (r *root) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all users",
		Args:  cobra.NoArgs,
		RunE: r.run(func(ctx context.Context, a *app.Application, cmd *cobra.Command, _ []string) error {
			users, err := a.Users.List(ctx)
			if err != nil {
				return err
			}
			views := make([]userView, 0, len(users))
			for _, u := range users {
				views = append(views, toView(u))
			}
			return writeJSON(cmd.OutOrStdout(), views)
		}),
	}
}

func (r *root) verifyCommand() *cobra.Command {
	var (
		email    string
		password passwordFlags
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a password against the stored hash",
		Long: `Check a password against the stored hash. Exits 0 and prints the user
when it matches, exits 5 otherwise. An outdated hash is upgraded on success.`,
		Args: cobra.NoArgs,
		RunE: r.run(func(ctx context.Context, a *app.Application, cmd *cobra.Command, _ []string) error {
			pw, _, err := password.read(cmd, true)
			if err != nil {
				return err
			}
			u, err := a.Auth.Authenticate(ctx, email, pw)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), toView(u))
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "email address of the account")
	_ = cmd.MarkFlagRequired("email")
	password.register(cmd)
	return cmd
}

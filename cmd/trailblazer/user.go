package trailblazer

import (
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/service"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/store"
)

type databaseOptionsType struct {
	databaseURI string
}

func newDatabaseOptions() databaseOptionsType {
	uri := os.Getenv("TRAILBLAZER_DATABASE_URI")
	if uri == "" {
		uri = "trailblazer.db"
	}
	return databaseOptionsType{databaseURI: uri}
}

func setupDatabaseOptions(cmd *cobra.Command, opts *databaseOptionsType) {
	cmd.PersistentFlags().StringVar(
		&opts.databaseURI, "database-uri", opts.databaseURI,
		`Database to connect to: a postgres:// URI or a sqlite file path.`,
	)
}

type userOptionsType struct {
	id              uint
	name            string
	email           string
	abbreviation    string
	includeArchived bool
}

func setupUserOptions(cmd *cobra.Command, opts *userOptionsType) {
	cmd.PersistentFlags().UintVar(
		&opts.id, "id", opts.id,
		`The id of the user.`,
	)
	cmd.PersistentFlags().StringVar(
		&opts.name, "name", opts.name,
		`The full name of the user.`,
	)
	cmd.PersistentFlags().StringVar(
		&opts.email, "email", opts.email,
		`The email address of the user.`,
	)
	cmd.PersistentFlags().StringVar(
		&opts.abbreviation, "abbreviation", opts.abbreviation,
		`The short signature used in comments.`,
	)
	cmd.PersistentFlags().BoolVar(
		&opts.includeArchived, "include-archived", opts.includeArchived,
		`Include archived users in listings.`,
	)
}

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Commands to manage users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fmt.Errorf("please run a subcommand")
		},
	}
	userCmd.AddCommand(newAddUserCmd())
	userCmd.AddCommand(newArchiveUserCmd())
	userCmd.AddCommand(newUnarchiveUserCmd())
	userCmd.AddCommand(newListUsersCmd())
	return userCmd
}

func newUserService(databaseOptions databaseOptionsType) (*service.UserService, error) {
	st, err := store.New(openDialector(databaseOptions.databaseURI))
	if err != nil {
		return nil, err
	}
	// token custody needs no cipher here, none of the admin commands touch it
	return service.NewUserService(st, nil), nil
}

func newAddUserCmd() *cobra.Command {
	databaseOptions := newDatabaseOptions()
	userOptions := userOptionsType{}
	addUserCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return adduser(cmd, databaseOptions, userOptions)
		},
	}
	setupDatabaseOptions(addUserCmd, &databaseOptions)
	setupUserOptions(addUserCmd, &userOptions)
	return addUserCmd
}

func newArchiveUserCmd() *cobra.Command {
	databaseOptions := newDatabaseOptions()
	userOptions := userOptionsType{}
	archiveUserCmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive a user so they can no longer log in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return setarchived(cmd, databaseOptions, userOptions, true)
		},
	}
	setupDatabaseOptions(archiveUserCmd, &databaseOptions)
	setupUserOptions(archiveUserCmd, &userOptions)
	return archiveUserCmd
}

func newUnarchiveUserCmd() *cobra.Command {
	databaseOptions := newDatabaseOptions()
	userOptions := userOptionsType{}
	unarchiveUserCmd := &cobra.Command{
		Use:   "unarchive",
		Short: "Restore an archived user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return setarchived(cmd, databaseOptions, userOptions, false)
		},
	}
	setupDatabaseOptions(unarchiveUserCmd, &databaseOptions)
	setupUserOptions(unarchiveUserCmd, &userOptions)
	return unarchiveUserCmd
}

func newListUsersCmd() *cobra.Command {
	databaseOptions := newDatabaseOptions()
	userOptions := userOptionsType{}
	listUsersCmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listusers(cmd, databaseOptions, userOptions)
		},
	}
	setupDatabaseOptions(listUsersCmd, &databaseOptions)
	setupUserOptions(listUsersCmd, &userOptions)
	return listUsersCmd
}

func adduser(cmd *cobra.Command, databaseOptions databaseOptionsType, userOptions userOptionsType) error {
	users, err := newUserService(databaseOptions)
	if err != nil {
		return err
	}
	user, err := users.AddUser(cmd.Context(), userOptions.name, userOptions.email, userOptions.abbreviation)
	if err != nil {
		return err
	}
	spew.Dump(user)
	return nil
}

func setarchived(cmd *cobra.Command, databaseOptions databaseOptionsType, userOptions userOptionsType, archived bool) error {
	if userOptions.id == 0 {
		return fmt.Errorf("--id is required")
	}
	users, err := newUserService(databaseOptions)
	if err != nil {
		return err
	}
	return users.SetUserIsArchived(cmd.Context(), userOptions.id, archived)
}

func listusers(cmd *cobra.Command, databaseOptions databaseOptionsType, userOptions userOptionsType) error {
	users, err := newUserService(databaseOptions)
	if err != nil {
		return err
	}
	list, err := users.GetUsers(cmd.Context(), userOptions.name, userOptions.email, userOptions.includeArchived)
	if err != nil {
		return err
	}
	spew.Dump(list)
	return nil
}

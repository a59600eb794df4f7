package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mpetrov/twofad/auth"
	"github.com/mpetrov/twofad/config"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage registered accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username> <password>",
	Short: "Register an account directly against the store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		ctx := context.Background()
		store, closeStore, err := openStore(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer closeStore()

		authority := auth.NewAuthority(store, auth.HasherByName(cfg.Hasher), nil)
		if err := authority.Register(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("registering %s: %w", args[0], err)
		}
		fmt.Printf("account %s created\n", args[0])
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered account names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		ctx := context.Background()
		store, closeStore, err := openStore(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer closeStore()

		users, err := store.ListUsers(ctx)
		if err != nil {
			return fmt.Errorf("listing users: %w", err)
		}
		for _, u := range users {
			fmt.Println(u)
		}
		return nil
	},
}

func init() {
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	rootCmd.AddCommand(userCmd)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omjadhav9271/code-review-copilot/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the copilot database",
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and apply the schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		fmt.Printf("database ready at %s\n", database.Path())
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all tables and re-apply the schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Reset(); err != nil {
			return err
		}
		fmt.Println("database reset")
		return nil
	},
}

var dbPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the database path",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := cfg.DB.Path
		if path == "" {
			path, err = db.DefaultDBPath()
			if err != nil {
				return err
			}
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbInitCmd)
	dbCmd.AddCommand(dbResetCmd)
	dbCmd.AddCommand(dbPathCmd)
}

// Command migrate applies or rolls back the ticket order schema.
package main

import (
	"database/sql"
	"fmt"
	"ms-ticket-orders/internal/config"
	"ms-ticket-orders/internal/database/migrations"
	"ms-ticket-orders/internal/logger"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var dsn string

	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&dsn, "dsn", "", "Postgres connection string (default: built from DB_* variables)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printHelp(flagSet)
		return fmt.Errorf("missing command")
	}

	_ = godotenv.Load()
	log := logger.NewLogger()
	defer log.Close()
	if dsn == "" {
		dsn = config.Load().Database.DSN()
	}

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	r := migrations.NewRunner(sqldb, log)
	defer r.Close()

	switch args[0] {
	case "up":
		return r.MigrateUp()
	case "down":
		return r.MigrateDown()
	case "to":
		if len(args) != 2 {
			return fmt.Errorf("usage: migrate to <version>")
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		return r.MigrateTo(uint(v))
	case "version":
		v, dirty, err := r.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty: %t)\n", v, dirty)
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Applies the embedded ticket order schema.

Usage:
  migrate [flags] up|down|version
  migrate [flags] to <version>

Flags:
%s`, flagSet.FlagUsages())
}

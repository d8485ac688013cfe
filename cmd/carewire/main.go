// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
	"storj.io/common/fpath"
	"storj.io/common/process"

	"carewire.io/carewire/engine"
	"carewire.io/carewire/engine/enginedb"
)

var (
	rootCmd = &cobra.Command{
		Use:   "carewire",
		Short: "Carewire integration engine",
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the integration engine",
		RunE:  cmdRun,
	}
	migrationCmd = &cobra.Command{
		Use:   "run-migration",
		Short: "Apply pending database migrations and exit",
		RunE:  cmdMigration,
	}
	confDir string

	runCfg   Carewire
	setupCfg Carewire
)

// Carewire defines the configuration of the engine process.
type Carewire struct {
	Database string `help:"engine database connection string" default:"sqlite3://$CONFDIR/carewire.db"`

	engine.Config
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	valid, _ := fpath.IsValidSetupDir(setupDir)
	if !valid {
		return fmt.Errorf("engine configuration already exists (%v)", setupDir)
	}

	err = os.MkdirAll(setupDir, 0700)
	if err != nil {
		return err
	}

	return process.SaveConfig(cmd, filepath.Join(setupDir, "config.yaml"))
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := enginedb.Open(ctx, log.Named("db"), runCfg.Database)
	if err != nil {
		return errs.New("error opening engine database: %+v", err)
	}
	defer func() {
		err = errs.Combine(err, db.Close())
	}()

	err = db.MigrateToLatest(ctx)
	if err != nil {
		return errs.New("error migrating engine database: %+v", err)
	}

	peer, err := engine.New(ctx, log, db, runCfg.Config)
	if err != nil {
		return errs.New("error creating engine peer: %+v", err)
	}

	runError := peer.Run(ctx)
	closeError := peer.Close()
	return errs.Combine(runError, closeError)
}

func cmdMigration(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := enginedb.Open(ctx, log.Named("db"), runCfg.Database)
	if err != nil {
		return errs.New("error opening engine database: %+v", err)
	}
	defer func() {
		err = errs.Combine(err, db.Close())
	}()

	return db.MigrateToLatest(ctx)
}

func init() {
	defaultConfDir := fpath.ApplicationDir("carewire")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for engine configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(migrationCmd)
	process.Bind(runCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(migrationCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
}

func main() {
	logger, _, _ := process.NewLogger("carewire")
	zap.ReplaceGlobals(logger)

	process.Exec(rootCmd)
}

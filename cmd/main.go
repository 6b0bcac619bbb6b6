/*
Copyright 2025 Settld Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/settldhq/settld"
	"github.com/settldhq/settld/config"
	"github.com/settldhq/settld/database"
	"github.com/settldhq/settld/internal/notification"
)

// settldInstance carries the initialized settlement core and its configuration
// into the subcommands.
type settldInstance struct {
	settld *settld.Settld
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func preRun(app *settldInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		core, err := setupSettld(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.settld = core
		app.cnf = cnf
		return nil
	}
}

func setupSettld(cfg *config.Configuration) (*settld.Settld, error) {
	store, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}
	core, err := settld.NewSettld(store)
	if err != nil {
		return nil, fmt.Errorf("error creating settld: %v", err)
	}
	return core, nil
}

func newCLI() *cobra.Command {
	var configFile string
	app := &settldInstance{}

	var rootCmd = &cobra.Command{
		Use:   "settld",
		Short: "Marketplace settlement core",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./settld.json", "Configuration file for settld")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands())
	rootCmd.AddCommand(configCommands())

	return rootCmd
}

func main() {
	defer recoverPanic()

	if err := newCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

/*
Copyright 2023 The Nuclio Authors.

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

package command

import (
	"io"
	"os"

	"github.com/nuclio/radon/pkg/common"
	"github.com/nuclio/radon/pkg/config"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "radon.yaml"

type RootCommandeer struct {
	loggerInstance logger.Logger
	cmd            *cobra.Command
	configPath     string
	verbose        bool
	reader         *config.Reader
	output         io.Writer

	// replaced by tests
	exit func(code int)
}

func NewRootCommandeer() *RootCommandeer {
	commandeer := &RootCommandeer{
		reader: config.NewReader(),
		output: os.Stdout,
		exit:   os.Exit,
	}

	cmd := &cobra.Command{
		Use:           "radon [command]",
		Short:         "radon multi-process application runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("RADON_CONFIG")
	if defaultConfig == "" {
		defaultConfig = defaultConfigPath
	}

	cmd.PersistentFlags().BoolVarP(&commandeer.verbose, "verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().StringVarP(&commandeer.configPath, "config", "c", defaultConfig, "Path of the daemon configuration file")

	// add children
	cmd.AddCommand(
		newStartCommandeer(commandeer).cmd,
		newStopCommandeer(commandeer).cmd,
		newKillCommandeer(commandeer).cmd,
		newReloadCommandeer(commandeer).cmd,
		newRestartCommandeer(commandeer).cmd,
		newStatusCommandeer(commandeer).cmd,
		newMonitorCommandeer(commandeer).cmd,
		newVersionCommandeer(commandeer).cmd,
		newWorkerCommandeer(commandeer).cmd,
	)

	commandeer.cmd = cmd

	return commandeer
}

// Execute uses os.Args to execute the command
func (rc *RootCommandeer) Execute() error {
	return rc.cmd.Execute()
}

// GetCmd returns the underlying cobra command
func (rc *RootCommandeer) GetCmd() *cobra.Command {
	return rc.cmd
}

func (rc *RootCommandeer) initialize() error {
	var err error

	rc.loggerInstance, err = rc.createLogger()
	if err != nil {
		return errors.Wrap(err, "Failed to create logger")
	}

	return nil
}

func (rc *RootCommandeer) createLogger() (logger.Logger, error) {
	var loggerLevel nucliozap.Level

	if rc.verbose {
		loggerLevel = nucliozap.DebugLevel
	} else {
		loggerLevel = nucliozap.InfoLevel
	}

	loggerInstance, err := nucliozap.NewNuclioZapCmd("radon", loggerLevel, os.Stdout)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create logger")
	}

	return loggerInstance, nil
}

// readDaemonFile reads the daemon configuration file named by --config
func (rc *RootCommandeer) readDaemonFile() (*config.DaemonFile, error) {
	configPath, err := common.NormalizePath(rc.configPath, "")
	if err != nil {
		return nil, errors.Wrap(err, "Failed to resolve configuration path")
	}

	daemonFile, err := rc.reader.ReadDaemonFile(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to read daemon configuration %s", configPath)
	}

	return daemonFile, nil
}

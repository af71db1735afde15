/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package main

import (
	"fmt"
	"os"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/xrpc-go/xrpc"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "xrpcd",
	Short: "xrpcd serves routes over TLS with HTTP/1.1 and HTTP/2",
	Long: `xrpcd runs an xrpc server from a YAML configuration file.

Connections are admitted through the connection limiter, rate limiter, IP allow
and deny lists and firewall rules configured in the file, then routed to the
registered services.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logrus.InfoLevel
		if verbose {
			level = logrus.DebugLevel
		}
		pfxlog.GlobalInit(level, pfxlog.DefaultOptions().SetTrimPrefix("github.com/xrpc-go/"))
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "xrpc.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func loadConfig(path string) (*xrpc.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read config file [%s]", path)
	}

	configMap, err := xrpc.LoadConfigMap(data)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load config file [%s]", path)
	}

	config := xrpc.NewConfig()
	if err = config.Parse(configMap); err != nil {
		return nil, errors.Wrapf(err, "unable to parse config file [%s]", path)
	}

	if err = config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file [%s]", path)
	}

	return config, nil
}

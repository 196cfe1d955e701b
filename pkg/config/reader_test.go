//go:build test_unit

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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ReaderTestSuite struct {
	suite.Suite
	reader  *Reader
	tempDir string
}

func (suite *ReaderTestSuite) SetupTest() {
	suite.reader = NewReader()
	suite.tempDir = suite.T().TempDir()
}

func (suite *ReaderTestSuite) writeFile(name string, contents string) string {
	path := filepath.Join(suite.tempDir, name)
	suite.Require().NoError(os.WriteFile(path, []byte(contents), 0644))

	return path
}

func (suite *ReaderTestSuite) TestReadDaemonFile() {
	path := suite.writeFile("daemon.yaml", `
daemon:
  app_name: shop
  log_file: logs/shop_
groups:
  - name: front
    config: front.yaml
    single_mode: true
  - name: back
    config: /etc/back.yaml
`)

	daemonFile, err := suite.reader.ReadDaemonFile(path)
	suite.Require().NoError(err)

	suite.Require().Equal("shop", daemonFile.Daemon.AppName)
	suite.Require().Equal(DefaultLogLevel, daemonFile.Daemon.LogLevel)
	suite.Require().Equal(DefaultStopTimeout, daemonFile.Daemon.StopTimeout)
	suite.Require().Equal(filepath.Join(suite.tempDir, "radon.pid"), daemonFile.Daemon.Pidfile)
	suite.Require().Equal(filepath.Join(suite.tempDir, "logs/shop_"), daemonFile.Daemon.LogFile)
	suite.Require().True(daemonFile.Daemon.Monitor.IsEnabled())
	suite.Require().Equal(DefaultMonitorAddress, daemonFile.Daemon.Monitor.ListenAddress)

	suite.Require().Len(daemonFile.Groups, 2)
	suite.Require().Equal(filepath.Join(suite.tempDir, "front.yaml"), daemonFile.Groups[0].Config)
	suite.Require().True(daemonFile.Groups[0].SingleMode)
	suite.Require().Equal("/etc/back.yaml", daemonFile.Groups[1].Config)
}

func (suite *ReaderTestSuite) TestEnvironmentOverrides() {
	suite.T().Setenv("RADON_LOG_LEVEL", "debug")
	suite.T().Setenv("RADON_MONITOR_ADDRESS", ":9999")

	path := suite.writeFile("daemon.yaml", `
daemon:
  log_level: warn
  monitor:
    enabled: false
`)

	daemonFile, err := suite.reader.ReadDaemonFile(path)
	suite.Require().NoError(err)
	suite.Require().Equal("debug", daemonFile.Daemon.LogLevel)
	suite.Require().Equal(":9999", daemonFile.Daemon.Monitor.ListenAddress)
	suite.Require().False(daemonFile.Daemon.Monitor.IsEnabled())
}

func (suite *ReaderTestSuite) TestReadGroupFile() {
	path := suite.writeFile("group.yaml", `
radon:
  process_file: worker.sh
  processes:
    p_router:
      modules:
        - name: router
          kind: router
    p_users:
      threads: 3
      force_clear: true
      modules:
        - name: users
          kind: echo
          config:
            greeting: hi
  transport:
    router: router@p_router
router:
  default_group: front
`)

	groupFile, err := suite.reader.ReadGroupFile(path)
	suite.Require().NoError(err)

	suite.Require().Equal(filepath.Join(suite.tempDir, "worker.sh"), groupFile.Radon.ProcessFile)
	suite.Require().Equal([]string{"p_router", "p_users"}, groupFile.ProcessNames())
	suite.Require().Equal(DefaultThreadQueue, groupFile.Radon.Processes["p_router"].ThreadQueue)
	suite.Require().Equal(3, groupFile.Radon.Processes["p_users"].Threads)
	suite.Require().True(groupFile.Radon.Processes["p_users"].ForceClear)
	suite.Require().Equal("hi", groupFile.Radon.Processes["p_users"].Modules[0].Config["greeting"])
	suite.Require().Equal(30*time.Second, groupFile.Radon.Transport.GetRequestTimeout())
	suite.Require().Equal("msgpack", groupFile.Radon.Transport.Codec)
	suite.Require().Equal("front", groupFile.Router["default_group"])
}

func (suite *ReaderTestSuite) TestGroupFileCachedUntilReload() {
	path := suite.writeFile("group.yaml", "radon:\n  process_file: a.sh\n")

	groupFile, err := suite.reader.ReadGroupFile(path)
	suite.Require().NoError(err)

	suite.writeFile("group.yaml", "radon:\n  process_file: b.sh\n")

	cachedGroupFile, err := suite.reader.ReadGroupFile(path)
	suite.Require().NoError(err)
	suite.Require().Same(groupFile, cachedGroupFile)

	suite.reader.Reload("")

	reloadedGroupFile, err := suite.reader.ReadGroupFile(path)
	suite.Require().NoError(err)
	suite.Require().Equal(filepath.Join(suite.tempDir, "b.sh"), reloadedGroupFile.Radon.ProcessFile)
}

func (suite *ReaderTestSuite) TestMissingFile() {
	_, err := suite.reader.ReadGroupFile(filepath.Join(suite.tempDir, "missing.yaml"))
	suite.Require().Error(err)
}

func (suite *ReaderTestSuite) TestDecodeModuleConfig() {
	target := struct {
		Timeout  time.Duration `mapstructure:"timeout"`
		Size     int           `mapstructure:"token_size"`
		Disabled bool          `mapstructure:"disabled"`
	}{}

	suite.Require().NoError(DecodeModuleConfig(map[string]interface{}{
		"timeout":    "30s",
		"token_size": "12",
		"disabled":   1,
	}, &target))

	suite.Require().Equal(30*time.Second, target.Timeout)
	suite.Require().Equal(12, target.Size)
	suite.Require().True(target.Disabled)
}

func TestReaderTestSuite(t *testing.T) {
	suite.Run(t, new(ReaderTestSuite))
}

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

package renderer

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/nuclio/radon/pkg/daemon"
	"github.com/nuclio/radon/pkg/daemon/child"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

type RendererTestSuite struct {
	suite.Suite
	output       *bytes.Buffer
	renderer     *Renderer
	statusReport *daemon.StatusReport
}

func (suite *RendererTestSuite) SetupTest() {
	suite.output = &bytes.Buffer{}
	suite.renderer = NewRenderer(suite.output)
	suite.statusReport = &daemon.StatusReport{
		AppName: "radon-test",
		Pid:     42,
		Version: "1.2.3",
		Children: []*daemon.ChildStatus{
			{
				Snapshot: &child.Snapshot{
					ID:      "web.http",
					Pid:     100,
					Status:  child.StatusRunAuto,
					Started: 2,
					Exits:   []envelope.ExitRecord{{}},
				},
				Group: "web",
				Reply: map[string]interface{}{"status": "RUNNING"},
			},
			{Group: "web"},
		},
	}
}

func (suite *RendererTestSuite) TestText() {
	suite.Require().NoError(suite.renderer.RenderStatus(suite.statusReport, OutputFormatText))

	rendered := suite.output.String()
	suite.Require().Contains(rendered, "radon-test (pid 42, version 1.2.3)")
	suite.Require().Contains(rendered, "web.http")
	suite.Require().Contains(rendered, "run_auto")
	suite.Require().NotContains(rendered, "RUNNING")
}

func (suite *RendererTestSuite) TestWide() {
	suite.Require().NoError(suite.renderer.RenderStatus(suite.statusReport, OutputFormatWide))
	suite.Require().Contains(suite.output.String(), `{"status":"RUNNING"}`)
}

func (suite *RendererTestSuite) TestJSON() {
	suite.Require().NoError(suite.renderer.RenderStatus(suite.statusReport, OutputFormatJSON))

	decoded := map[string]interface{}{}
	suite.Require().NoError(json.Unmarshal(suite.output.Bytes(), &decoded))
	suite.Require().Equal("radon-test", decoded["app_name"])
	suite.Require().Len(decoded["children"], 2)
}

func (suite *RendererTestSuite) TestYAML() {
	suite.Require().NoError(suite.renderer.RenderStatus(suite.statusReport, OutputFormatYAML))

	decoded := map[string]interface{}{}
	suite.Require().NoError(yaml.Unmarshal(suite.output.Bytes(), &decoded))
	suite.Require().Equal(42, decoded["pid"])
}

func (suite *RendererTestSuite) TestUnknownFormat() {
	suite.Require().Error(suite.renderer.RenderStatus(suite.statusReport, "xml"))
}

func TestRendererTestSuite(t *testing.T) {
	suite.Run(t, new(RendererTestSuite))
}

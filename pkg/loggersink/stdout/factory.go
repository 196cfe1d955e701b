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

package stdout

import (
	"os"

	"github.com/nuclio/radon/pkg/loggersink"

	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
)

type factory struct{}

func (f *factory) Create(name string, configuration *loggersink.Configuration) (logger.Logger, error) {
	return nucliozap.NewNuclioZap(name,
		configuration.GetEncoding(),
		loggersink.NewEncoderConfig(),
		os.Stdout,
		os.Stderr,
		configuration.GetZapLevel())
}

// register factory
func init() {
	loggersink.RegistrySingleton.Register("stdout", &factory{})
}

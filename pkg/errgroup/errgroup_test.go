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

package errgroup

import (
	"context"
	"sync"
	"testing"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

type ErrGroupTestSuite struct {
	suite.Suite
	logger logger.Logger
	ctx    context.Context
	lock   sync.Mutex
}

func (suite *ErrGroupTestSuite) SetupTest() {
	suite.logger, _ = nucliozap.NewNuclioZapTest("test")
	suite.ctx = context.Background()
}

func (suite *ErrGroupTestSuite) TestConcurrencyLimit() {
	for _, testCase := range []struct {
		name          string
		concurrency   int
		goroutinesNum int
	}{
		{
			name:          "DefaultConcurrency",
			concurrency:   DefaultErrgroupConcurrency,
			goroutinesNum: 10,
		},
		{
			name:          "ZeroConcurrency",
			concurrency:   0,
			goroutinesNum: 10,
		},
		{
			name:          "ManyGoroutines",
			concurrency:   3,
			goroutinesNum: 30,
		},
	} {
		suite.Run(testCase.name, func() {
			var concurrentCallCount, totalCallCount int
			errGroup, _ := WithContext(suite.ctx, suite.logger, testCase.concurrency)

			limit := testCase.concurrency
			if limit <= 0 {
				limit = DefaultErrgroupConcurrency
			}

			for i := 0; i < testCase.goroutinesNum; i++ {
				errGroup.Go(testCase.name, func() error {
					suite.lock.Lock()
					concurrentCallCount++
					totalCallCount++
					current := concurrentCallCount
					suite.lock.Unlock()

					suite.Require().LessOrEqual(current, limit)

					suite.lock.Lock()
					concurrentCallCount--
					suite.lock.Unlock()
					return nil
				})
			}

			suite.Require().NoError(errGroup.Wait())
			suite.Require().Equal(0, concurrentCallCount)
			suite.Require().Equal(testCase.goroutinesNum, totalCallCount)
		})
	}
}

func (suite *ErrGroupTestSuite) TestPanicBecomesError() {
	errGroup, _ := WithContext(suite.ctx, suite.logger, 0)

	errGroup.Go("panicking", func() error {
		panic("boom")
	})

	err := errGroup.Wait()
	suite.Require().Error(err)
	suite.Require().Contains(err.Error(), "boom")
}

func (suite *ErrGroupTestSuite) TestFirstErrorReturned() {
	errGroup, groupCtx := WithContext(suite.ctx, suite.logger, 0)

	errGroup.Go("failing", func() error {
		return errors.New("failed")
	})
	errGroup.Go("waiting", func() error {
		<-groupCtx.Done()
		return nil
	})

	suite.Require().EqualError(errGroup.Wait(), "failed")
}

func TestErrGroupTestSuite(t *testing.T) {
	suite.Run(t, new(ErrGroupTestSuite))
}

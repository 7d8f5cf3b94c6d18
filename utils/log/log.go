// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log wraps a global zap.SugaredLogger, giving the rest of the
// module package-level logging functions without threading a logger through
// every constructor.
package log

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu      sync.RWMutex
	sugared *zap.SugaredLogger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	sugared = l.Sugar()
}

// Configure replaces the global logger. Intended to be called once at
// process startup.
func Configure(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	sugared = l.Sugar()
}

func logger() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

// With returns a logger annotated with the given key/value pairs.
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return logger().With(keysAndValues...)
}

// Debugf logs a formatted debug message.
func Debugf(template string, args ...interface{}) { logger().Debugf(template, args...) }

// Infof logs a formatted info message.
func Infof(template string, args ...interface{}) { logger().Infof(template, args...) }

// Warnf logs a formatted warning message.
func Warnf(template string, args ...interface{}) { logger().Warnf(template, args...) }

// Errorf logs a formatted error message.
func Errorf(template string, args ...interface{}) { logger().Errorf(template, args...) }

// Fatalf logs a formatted fatal message and exits the process.
func Fatalf(template string, args ...interface{}) { logger().Fatalf(template, args...) }

// Copyright (c) 2024 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Apache Software License 2.0 which is available at
// https://www.apache.org/licenses/LICENSE-2.0, or the MIT license
// which is available at https://opensource.org/licenses/MIT.
//
// SPDX-License-Identifier: Apache-2.0 OR MIT

package mwcom

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eclipse-score/mw-com-lola/internal/logz"
	"github.com/eclipse-score/mw-com-lola/mwcom/config"
)

// defaultManifestPath is used when neither a --service_instance_manifest
// flag nor an explicit RuntimeConfiguration is supplied (§6).
const defaultManifestPath = "./etc/mw_com_config.json"

// RuntimeConfiguration selects the configuration source for InitializeRuntime.
type RuntimeConfiguration struct {
	// ManifestPath overrides the default configuration file location.
	// Empty means use the flag/default resolution below.
	ManifestPath string
	// Logger receives the process-wide logger; nil installs a no-op logger.
	Logger *zap.Logger
}

var (
	runtimeOnce   sync.Once
	runtimeLog    *zap.Logger
	runtimeConfig *config.Configuration
	runtimeErr    error
)

// InitializeRuntime parses command-line style arguments for
// --service_instance_manifest (and the deprecated -service_instance_manifest
// alias), loads the configuration, and installs it as the process-wide
// runtime. First call wins; subsequent calls are no-ops that return the
// result of the first call.
func InitializeRuntime(args []string) error {
	return initRuntime(RuntimeConfiguration{ManifestPath: manifestPathFromArgs(args)})
}

// InitializeRuntimeWith is the RuntimeConfiguration overload of
// InitializeRuntime: first call wins regardless of which overload is used.
func InitializeRuntimeWith(cfg RuntimeConfiguration) error {
	return initRuntime(cfg)
}

func initRuntime(cfg RuntimeConfiguration) error {
	runtimeOnce.Do(func() {
		runtimeLog = logz.OrNop(cfg.Logger)
		path := cfg.ManifestPath
		if path == "" {
			path = defaultManifestPath
		}
		loaded, err := config.Load(path)
		if err != nil {
			runtimeErr = WrapError("InitializeRuntime", err)
			runtimeLog.Error("failed to load runtime configuration", zap.String("path", path), zap.Error(err))
			return
		}
		runtimeConfig = loaded
		runtimeLog.Info("runtime initialized", zap.String("manifest", path))
	})
	return runtimeErr
}

func manifestPathFromArgs(args []string) string {
	for i, a := range args {
		switch {
		case a == "--service_instance_manifest" || a == "-service_instance_manifest":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "--service_instance_manifest="):
			return strings.TrimPrefix(a, "--service_instance_manifest=")
		case strings.HasPrefix(a, "-service_instance_manifest="):
			return strings.TrimPrefix(a, "-service_instance_manifest=")
		}
	}
	return ""
}

// RuntimeLogger returns the process-wide logger installed by
// InitializeRuntime, or a no-op logger if the runtime was never
// initialized (so tests and tools that skip InitializeRuntime still get a
// usable logger instead of a nil pointer panic).
func RuntimeLogger() *zap.Logger {
	if runtimeLog == nil {
		return zap.NewNop()
	}
	return runtimeLog
}

// RuntimeConfig returns the configuration table loaded by
// InitializeRuntime, or nil if initialization has not happened or failed.
func RuntimeConfig() *config.Configuration {
	return runtimeConfig
}

// resetRuntimeForTest clears runtime singleton state. Test-only helper,
// guarded by the package-private name so it cannot be called from outside
// the module's own tests.
func resetRuntimeForTest() {
	runtimeOnce = sync.Once{}
	runtimeLog = nil
	runtimeConfig = nil
	runtimeErr = nil
}

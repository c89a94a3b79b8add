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

// Package logz centralizes the structured-logging bootstrap shared by
// mwcom and mwcom/lola. The binding code never constructs its own
// *zap.Logger; it receives one (or nil) and falls back to a no-op logger,
// the way optional dependencies are defaulted elsewhere in the ecosystem.
package logz

import "go.uber.org/zap"

// OrNop returns l, or a no-op logger if l is nil. Call sites that are
// handed an optional *zap.Logger should route it through here once at
// construction time rather than nil-checking on every log call.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

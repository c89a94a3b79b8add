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

// Package config holds the typed, versioned, JSON-serializable deployment
// description model: which service types and instances exist, how their
// events and fields are laid out in shared memory, and which binding
// services each instance. Every wire object carries its own
// serializationVersion; a mismatch on load is treated as a configuration
// error and aborts the process (mwcom.Fatal), not a recoverable error
// value.
package config

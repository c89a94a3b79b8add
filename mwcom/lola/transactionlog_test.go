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

package lola

import "testing"

func TestTransactionLogBeginCommitRoundTrip(t *testing.T) {
	l := NewTransactionLog(2)
	row := l.BeginReference(3)
	if row < 0 {
		t.Fatalf("BeginReference should return a free row")
	}
	if pending := l.Pending(); len(pending) != 1 || pending[0].SlotIndex != 3 || pending[0].Delta != 1 {
		t.Fatalf("expected one pending +1 entry for slot 3, got %+v", pending)
	}
	l.Commit(row)
	if pending := l.Pending(); len(pending) != 0 {
		t.Fatalf("expected no pending entries after Commit, got %+v", pending)
	}
}

func TestTransactionLogBeginReleaseDelta(t *testing.T) {
	l := NewTransactionLog(1)
	row := l.BeginRelease(7)
	pending := l.Pending()
	if len(pending) != 1 || pending[0].SlotIndex != 7 || pending[0].Delta != -1 {
		t.Fatalf("expected one pending -1 entry for slot 7, got %+v", pending)
	}
	l.Commit(row)
}

func TestTransactionLogReuseRowAfterCommit(t *testing.T) {
	l := NewTransactionLog(1)
	row1 := l.BeginReference(1)
	l.Commit(row1)
	row2 := l.BeginReference(2)
	if row2 != row1 {
		t.Fatalf("expected the single freed row to be reused, got row1=%d row2=%d", row1, row2)
	}
}

func TestTransactionLogReset(t *testing.T) {
	l := NewTransactionLog(2)
	l.BeginReference(1)
	l.BeginReference(2)
	if len(l.Pending()) != 2 {
		t.Fatalf("expected 2 pending entries before Reset")
	}
	l.Reset()
	if len(l.Pending()) != 0 {
		t.Fatalf("expected 0 pending entries after Reset")
	}
}

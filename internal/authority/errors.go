// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package authority

import (
	"fmt"

	"github.com/pkg/errors"
)

// UnreachableError means the authority could not be asked: transport failure,
// timeout, or a server side status that says "try later".
type UnreachableError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UnreachableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("licensing authority unreachable during %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("licensing authority unreachable during %s: %v", e.Op, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// RejectedError means the authority answered and denied the request.
type RejectedError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("licensing authority rejected %s: %s", e.Op, e.Message)
}

func IsUnreachable(err error) bool {
	var target *UnreachableError
	return errors.As(err, &target)
}

func IsRejected(err error) bool {
	var target *RejectedError
	return errors.As(err, &target)
}

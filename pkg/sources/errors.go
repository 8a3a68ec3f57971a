// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sources

import "fmt"

// UnauthorizedError means the request failed signature or token
// verification. The caller should respond 401.
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s", e.Reason)
}

// Unauthorized constructs an *UnauthorizedError.
func Unauthorized(reason string) error {
	return &UnauthorizedError{Reason: reason}
}

// BadRequestError means the request was malformed or targeted an unknown
// source. The caller should respond 400.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("bad request: %s", e.Reason)
}

// BadRequest constructs a *BadRequestError.
func BadRequest(reason string) error {
	return &BadRequestError{Reason: reason}
}

// Copyright 2026 Blink Labs Software
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

package provider

import "fmt"

// TimeoutError is returned when a single upstream request exceeds its
// deadline. It is retryable at the run level; the fetch client itself never
// retries mid-page.
type TimeoutError struct {
	Err     error
	ApiName string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"provider request timed out: api %s: %s",
		e.ApiName,
		e.Err,
	)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// RejectedError is returned when the upstream envelope carries a non-zero
// application-level code. The upstream message is preserved verbatim.
type RejectedError struct {
	ApiName string
	Msg     string
	Code    int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf(
		"provider rejected request: api %s: code %d: %s",
		e.ApiName,
		e.Code,
		e.Msg,
	)
}

// Copyright 2026 Kadir Pekel
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

package llms

import "fmt"

// UpstreamError reports a non-2xx response from the model provider.
type UpstreamError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream error %d", e.StatusCode)
}

// ErrorKind classifies the error for stream consumers.
func (e *UpstreamError) ErrorKind() string { return "upstream" }

// retryableStatus reports whether a status code is worth retrying.
func retryableStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429:
		return true
	}
	return statusCode >= 500
}

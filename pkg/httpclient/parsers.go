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

package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseOpenAIHeaders extracts rate-limit hints from OpenAI-compatible
// responses. DeepSeek and most self-hosted gateways emit the same headers.
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	if remaining := headers.Get("x-ratelimit-remaining-requests"); remaining != "" {
		if count, err := strconv.Atoi(remaining); err == nil {
			info.RequestsRemaining = count
		}
	}

	if remaining := headers.Get("x-ratelimit-remaining-tokens"); remaining != "" {
		if count, err := strconv.Atoi(remaining); err == nil {
			info.TokensRemaining = count
		}
	}

	// Reset headers come as durations like "1s" or "6m0s".
	if reset := headers.Get("x-ratelimit-reset-requests"); reset != "" && info.RetryAfter == 0 {
		if d, err := time.ParseDuration(reset); err == nil {
			info.RetryAfter = d
		}
	}

	return info
}

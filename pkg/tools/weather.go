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

package tools

import (
	"context"
	"strings"
)

type weatherArgs struct {
	City string `json:"city" jsonschema:"required,description=The name of the city to get the weather for"`
}

// NewGetCurrentWeather returns the canned weather tool used to exercise
// tool calling end to end.
func NewGetCurrentWeather() (Tool, error) {
	return New("get_current_weather",
		"Get the current weather for a given city.",
		func(ctx context.Context, inv Invocation, args weatherArgs) (string, error) {
			city := strings.ToLower(args.City)
			switch {
			case strings.Contains(city, "beijing"):
				return "Sunny, 25°C", nil
			case strings.Contains(city, "shanghai"):
				return "Cloudy, 22°C", nil
			case strings.Contains(city, "new york"):
				return "Rainy, 15°C", nil
			default:
				return "Unknown city, assuming Sunny, 20°C", nil
			}
		})
}

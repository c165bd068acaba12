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
	"fmt"

	"github.com/kadirpekel/axon/pkg/memory"
)

type upsertMemoryArgs struct {
	Content string `json:"content" jsonschema:"required,description=The information to remember about the user"`
	Key     string `json:"key" jsonschema:"required,description=A short descriptive key for this memory such as food_preference"`
}

// NewUpsertMemory returns the long-term memory tool. Memories are
// scoped to the invoking user; an invocation without a user falls back
// to the shared default_user namespace.
func NewUpsertMemory(store memory.Store) (Tool, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	return New("upsert_memory",
		"Save or update a piece of long-term memory about the user. "+
			"Use this tool when the user provides important personal information, "+
			"preferences, or facts that should be remembered for future conversations.",
		func(ctx context.Context, inv Invocation, args upsertMemoryArgs) (string, error) {
			userID := inv.UserID
			if userID == "" {
				userID = "default_user"
			}
			namespace := memory.Namespace(userID)

			existing, err := store.Get(ctx, namespace, args.Key)
			if err != nil {
				return "", fmt.Errorf("failed to check existing memory: %w", err)
			}
			if existing != nil && existing.Content() == args.Content {
				return fmt.Sprintf("Memory already exists: [%s] %s", args.Key, args.Content), nil
			}

			if err := store.Put(ctx, namespace, args.Key, map[string]any{"content": args.Content}); err != nil {
				return "", fmt.Errorf("failed to save memory: %w", err)
			}
			return fmt.Sprintf("Memory saved for user %s: [%s] %s", userID, args.Key, args.Content), nil
		})
}

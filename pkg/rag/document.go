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

package rag

// Document is a unit of loadable, splittable text. Loaders produce one or
// more documents per file; the splitter turns them into chunks that carry
// the same metadata.
type Document struct {
	Content  string
	Metadata map[string]any
}

// WithMetadata returns a copy of the document with extra metadata merged
// in. Caller keys win on conflict.
func (d Document) WithMetadata(extra map[string]any) Document {
	merged := make(map[string]any, len(d.Metadata)+len(extra))
	for k, v := range d.Metadata {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	d.Metadata = merged
	return d
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

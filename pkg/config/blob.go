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

package config

import (
	"fmt"
	"os"
)

// BlobConfig configures the S3-compatible object store that holds uploaded
// knowledge base files. MinIO and RustFS deployments set Endpoint and
// UsePathStyle; plain AWS needs only Region and Bucket.
type BlobConfig struct {
	// Endpoint overrides the S3 endpoint for self-hosted stores.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Region is the S3 region.
	Region string `yaml:"region,omitempty"`

	// AccessKeyID for static credentials. Supports ${VAR} expansion.
	AccessKeyID string `yaml:"access_key_id,omitempty"`

	// SecretAccessKey for static credentials. Supports ${VAR} expansion.
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`

	// Bucket stores all uploaded files.
	Bucket string `yaml:"bucket,omitempty"`

	// UsePathStyle forces path-style addressing, required by most
	// self-hosted S3 implementations.
	UsePathStyle *bool `yaml:"use_path_style,omitempty"`
}

// SetDefaults applies default values.
func (c *BlobConfig) SetDefaults() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.Bucket == "" {
		c.Bucket = "axon"
	}
	if c.AccessKeyID == "" {
		c.AccessKeyID = os.Getenv("BLOB_ACCESS_KEY_ID")
	}
	if c.SecretAccessKey == "" {
		c.SecretAccessKey = os.Getenv("BLOB_SECRET_ACCESS_KEY")
	}
	if c.UsePathStyle == nil {
		// Custom endpoints are almost always MinIO-style deployments.
		c.UsePathStyle = BoolPtr(c.Endpoint != "")
	}
}

// Validate checks the blob store configuration.
func (c *BlobConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	return nil
}

/*
Copyright © 2020 the no2obs authors.
This file is part of no2obs.

no2obs is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

no2obs is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with no2obs.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package cloud moves input and output files between the local
// filesystem and blob storage.
package cloud

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
)

// IsBlob returns whether the given filename represents a blob
// (i.e., if it starts with `gs://`, `s3://`, or `file://`).
func IsBlob(path string) bool {
	return strings.HasPrefix(path, "gs://") || strings.HasPrefix(path, "s3://") || strings.HasPrefix(path, "file://")
}

// SplitURL splits a blob URL such as gs://bucket/dir/file.nc into the
// bucket name (gs://bucket) and the key (dir/file.nc). The key is not
// unescaped, so it may hold date directives such as %Y.
func SplitURL(path string) (bucketName, key string, err error) {
	i := strings.Index(path, "://")
	if i <= 0 {
		return "", "", fmt.Errorf("cloud: %q is not a blob URL", path)
	}
	host, key := path[i+3:], ""
	if j := strings.Index(host, "/"); j >= 0 {
		host, key = host[:j], host[j+1:]
	}
	if host == "" {
		return "", "", fmt.Errorf("cloud: blob URL %q has no bucket name", path)
	}
	return path[:i+3] + host, key, nil
}

// OpenBucket opens the bucket of a blob URL of the form scheme://name,
// ignoring any key after the name. The scheme is file, gs or s3; a file
// bucket is a directory relative to the working directory. S3 buckets
// take their region and credentials from the AWS_* environment
// variables, defaulting to us-east-1.
func OpenBucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	bucketName, _, err := SplitURL(bucketURL)
	if err != nil {
		return nil, err
	}
	i := strings.Index(bucketName, "://")
	scheme, name := bucketName[:i], bucketName[i+3:]
	switch scheme {
	case "file":
		return fileblob.OpenBucket(name, nil)
	case "gs":
		creds, err := gcp.DefaultCredentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("cloud: Google credentials for %s: %w", bucketName, err)
		}
		c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
		if err != nil {
			return nil, fmt.Errorf("cloud: %w", err)
		}
		return gcsblob.OpenBucket(ctx, c, name, nil)
	case "s3":
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		sess, err := session.NewSession(&aws.Config{
			Region:      aws.String(region),
			Credentials: credentials.NewEnvCredentials(),
		})
		if err != nil {
			return nil, fmt.Errorf("cloud: AWS session for %s: %w", bucketName, err)
		}
		return s3blob.OpenBucket(ctx, sess, name, nil)
	default:
		return nil, fmt.Errorf("cloud: unsupported blob scheme %q in %s", scheme, bucketURL)
	}
}

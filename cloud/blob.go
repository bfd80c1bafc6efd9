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

package cloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// MaxRetries is the number of times a failed transfer is retried.
var MaxRetries uint64 = 5

// Log receives warnings about retried transfers.
var Log logrus.FieldLogger = logrus.StandardLogger()

// retry runs op until it succeeds, it fails permanently, or the
// retries run out. Missing blobs are not retried.
func retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxRetries), ctx)
	return backoff.RetryNotify(
		func() error {
			err := op()
			if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
				return backoff.Permanent(err)
			}
			return err
		},
		b,
		func(err error, d time.Duration) {
			Log.WithError(err).Warnf("retrying in %v", d)
		},
	)
}

// templatePrefix returns the part of key before the directory holding
// the first wildcard or date directive, and whether there is one.
func templatePrefix(key string) (string, bool) {
	i := strings.IndexAny(key, "*?[%$")
	if i < 0 {
		return key, false
	}
	return key[:strings.LastIndex(key[:i], "/")+1], true
}

// Download copies the blob at path, a URL such as gs://bucket/a/b.nc,
// to the same relative location under dir and returns the local path.
// If the key contains glob wildcards or date directives, every blob
// under the directory before the first of them is copied, and the
// returned path is the template rooted at dir.
func Download(ctx context.Context, path, dir string) (string, error) {
	bucketName, key, err := SplitURL(path)
	if err != nil {
		return "", err
	}
	bucket, err := OpenBucket(ctx, bucketName)
	if err != nil {
		return "", err
	}
	defer bucket.Close()

	local := filepath.Join(dir, filepath.FromSlash(key))
	prefix, templated := templatePrefix(key)
	if !templated {
		return local, copyFromBlob(ctx, bucket, key, local)
	}
	iter := bucket.List(&blob.ListOptions{Prefix: prefix})
	n := 0
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("cloud: listing %s/%s: %v", bucketName, prefix, err)
		}
		if obj.IsDir {
			continue
		}
		if err := copyFromBlob(ctx, bucket, obj.Key, filepath.Join(dir, filepath.FromSlash(obj.Key))); err != nil {
			return "", err
		}
		n++
	}
	Log.WithFields(logrus.Fields{"prefix": bucketName + "/" + prefix, "files": n}).Info("downloaded")
	return local, nil
}

// copyFromBlob copies the blob with the given key to the local file.
func copyFromBlob(ctx context.Context, bucket *blob.Bucket, key, local string) error {
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return fmt.Errorf("cloud: creating download directory: %v", err)
	}
	return retry(ctx, func() error {
		r, err := bucket.NewReader(ctx, key, nil)
		if err != nil {
			return fmt.Errorf("cloud: reading blob key %s: %w", key, err)
		}
		defer r.Close()
		w, err := os.Create(local)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("cloud: creating %s: %v", local, err))
		}
		if _, err = io.Copy(w, r); err != nil {
			w.Close()
			return fmt.Errorf("cloud: copying blob %s: %w", key, err)
		}
		return w.Close()
	})
}

// Upload copies the local file to the blob at path.
func Upload(ctx context.Context, local, path string) error {
	bucketName, key, err := SplitURL(path)
	if err != nil {
		return err
	}
	bucket, err := OpenBucket(ctx, bucketName)
	if err != nil {
		return err
	}
	defer bucket.Close()
	return retry(ctx, func() error {
		r, err := os.Open(local)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("cloud: opening file '%s' for upload: %v", local, err))
		}
		defer r.Close()
		w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{})
		if err != nil {
			return fmt.Errorf("cloud: creating writer for blob %s: %w", key, err)
		}
		if _, err = io.Copy(w, r); err != nil {
			w.Close()
			return fmt.Errorf("cloud: copying blob %s: %w", key, err)
		}
		if err = w.Close(); err != nil {
			return fmt.Errorf("cloud: writing blob %s: %w", key, err)
		}
		return nil
	})
}

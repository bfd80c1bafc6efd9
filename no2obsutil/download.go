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

package no2obsutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/no2obs/cloud"
)

// maybeDownload checks if the input is an existing file locally.
// If not, it checks if the file is a URL.
// If it's an http(s) URL, it downloads the file into dir and returns
// the path to the downloaded file.
// If it's a blob URL, the blob (or, for a file name template, every
// blob the template could match) is downloaded into dir and the local
// path or template is returned.
// Any other path is returned unchanged.
func maybeDownload(ctx context.Context, p, dir string) (string, error) {
	// Check if local file exists. If it does, return the given path.
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}

	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return downloadHTTP(ctx, p, dir)
	}

	if cloud.IsBlob(p) {
		bucket, _, err := cloud.SplitURL(p)
		if err != nil {
			return "", err
		}
		// Keep files from different buckets apart.
		sub := filepath.Join(dir, strings.Replace(bucket, "://", string(filepath.Separator), 1))
		return cloud.Download(ctx, p, sub)
	}
	return p, nil
}

// downloadHTTP downloads a file from the specified URL into dir and
// returns the path to the downloaded file. Server errors are retried.
func downloadHTTP(ctx context.Context, url, dir string) (string, error) {
	local := filepath.Join(dir, path.Base(url))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("no2obsutil: creating download directory: %v", err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cloud.MaxRetries), ctx)
	err := backoff.RetryNotify(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return backoff.Permanent(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				err = fmt.Errorf("no2obsutil: downloading %s: %s", url, resp.Status)
				if resp.StatusCode < 500 {
					return backoff.Permanent(err)
				}
				return err
			}
			w, err := os.Create(local)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("no2obsutil: creating file for download: %v", err))
			}
			if _, err = io.Copy(w, resp.Body); err != nil {
				w.Close()
				return err
			}
			return w.Close()
		},
		b,
		func(err error, d time.Duration) {
			logrus.WithError(err).WithField("url", url).Warnf("retrying in %v", d)
		},
	)
	if err != nil {
		return "", err
	}
	return local, nil
}

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
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/no2obs/cloud"
)

// uploader stages output files that are destined for blob storage.
// Staged files are laid out as dir/scheme/bucket/key.
type uploader struct {
	dir string
	err error
}

// maybeUpload checks whether the given output file path refers to
// a blob storage location. If it does, then a temporary file location
// is returned. The file will then be uploaded to blob storage when
// uploadOutput method is run. Paths may be file name templates.
func (u *uploader) maybeUpload(path string) string {
	if u.err != nil {
		return ""
	}
	if !cloud.IsBlob(path) {
		return path
	}
	bucket, key, err := cloud.SplitURL(path)
	if err != nil {
		u.err = err
		return ""
	}
	if u.dir == "" {
		u.dir, u.err = os.MkdirTemp("", "no2obs-out")
		if u.err != nil {
			return ""
		}
	}
	return filepath.Join(u.dir, strings.Replace(bucket, "://", string(filepath.Separator), 1), filepath.FromSlash(key))
}

// uploadOutput uploads every staged file and removes the staging
// directory.
func (u *uploader) uploadOutput(ctx context.Context, log logrus.FieldLogger) error {
	if u.err != nil {
		return u.err
	}
	if u.dir == "" {
		return nil
	}
	defer os.RemoveAll(u.dir)
	return filepath.Walk(u.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(u.dir, path)
		if err != nil {
			return err
		}
		parts := strings.SplitN(filepath.ToSlash(rel), "/", 3)
		if len(parts) != 3 {
			return fmt.Errorf("no2obsutil: unexpected staged file %s", path)
		}
		url := parts[0] + "://" + parts[1] + "/" + parts[2]
		if err := cloud.Upload(ctx, path, url); err != nil {
			return fmt.Errorf("no2obsutil: uploading %s: %v", url, err)
		}
		log.WithField("file", url).Info("uploaded")
		return nil
	})
}

// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package canon

import (
	"fmt"
	"strings"
)

// ToCameraPath converts an absolute slash path such as
// "/DCIM/100CANON/IMG_0001.JPG" into the camera form
// "A:\DCIM\100CANON\IMG_0001.JPG". The camera file system is FAT, so names
// are upper-cased.
func ToCameraPath(drive, path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%w: path %q is not absolute", ErrInvalidParameter, path)
	}
	drive = strings.TrimRight(drive, `\`)
	p := drive + strings.ToUpper(strings.ReplaceAll(path, "/", `\`))
	return strings.TrimSuffix(p, `\`), nil
}

// FromCameraPath drops the drive from a camera path and converts it back to
// slash form.
func FromCameraPath(path string) string {
	if i := strings.IndexByte(path, ':'); i >= 0 {
		path = path[i+1:]
	}
	path = strings.ReplaceAll(path, `\`, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// SplitCameraPath splits a camera path into its directory and file name.
func SplitCameraPath(path string) (dir, name string) {
	i := strings.LastIndexByte(path, '\\')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

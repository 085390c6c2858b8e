/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package shm contains the platform-specific helpers that back shared memory objects.
package shm

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned where the host has no shareable memory objects.
var ErrUnsupported = errors.New("shared memory not supported on this host")

// Object is an open, sized shared memory object.
type Object struct {
	Fd   int
	Name string
	Size int64
}

// Options defines options for creating a shared memory object.
type Options struct {
	// Name tags the object for debugging. Empty creates an anonymous object.
	Name string
	// Size is the fixed object size in bytes.
	Size int64
}

// Create makes a new zero-filled object of opts.Size bytes.
// The object has no filesystem presence once Create returns.
func Create(opts Options) (*Object, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("shm: invalid size %d", opts.Size)
	}
	return create(opts)
}

// Close releases the descriptor. Mappings made from it stay valid.
func (o *Object) Close() error {
	if o == nil || o.Fd < 0 {
		return nil
	}
	err := closeFd(o.Fd)
	o.Fd = -1
	return err
}

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

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package vm

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// No portable no-replace flag here: base is passed as a hint and the result
// is checked against it.
const (
	mapFixedNoReplace = 0
	mapNoReserve      = 0
)

func cacheLineSize() uintptr {
	return unsafe.Sizeof(cpu.CacheLinePad{})
}

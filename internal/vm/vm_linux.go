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

//go:build linux

package vm

import (
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/cpu"
	"golang.org/x/sys/unix"
)

const (
	mapFixedNoReplace = unix.MAP_FIXED_NOREPLACE
	mapNoReserve      = unix.MAP_NORESERVE
)

const coherencyLineSize = "/sys/devices/system/cpu/cpu0/cache/index0/coherency_line_size"

func cacheLineSize() uintptr {
	if b, err := os.ReadFile(coherencyLineSize); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(b))); err == nil && n > 0 {
			return uintptr(n)
		}
	}
	return unsafe.Sizeof(cpu.CacheLinePad{})
}

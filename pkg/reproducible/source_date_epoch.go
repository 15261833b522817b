// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package reproducible implements the reproducible-builds.org
// SOURCE_DATE_EPOCH convention; package files and layers clamp their
// timestamps to Now() so that identical inputs give identical bytes.
package reproducible

import (
	"os"
	"strconv"
	"sync"
	"time"
)

var (
	nowOnce sync.Once
	now     time.Time
)

// Now returns the time that build outputs should be stamped with: SOURCE_DATE_EPOCH if it is set,
// or the time of the first call otherwise.  The value is latched, so every caller in the process
// sees the same instant.
func Now() time.Time {
	nowOnce.Do(func() {
		secs, err := strconv.ParseInt(os.Getenv("SOURCE_DATE_EPOCH"), 10, 64)
		if err == nil {
			now = time.Unix(secs, 0)
		} else {
			now = time.Now()
		}
	})
	return now
}

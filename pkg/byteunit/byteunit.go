// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package byteunit formats byte counts as human readable strings.
package byteunit

import "fmt"

var units = []string{"B", "KB", "MB", "GB"}

// Format renders size at its nearest 1024-based unit with two decimal
// places, e.g. Format(524182118) == "499.91 MB".
func Format(size int64) string {
	v := float64(size)
	for _, unit := range units {
		if v < 1024 {
			return fmt.Sprintf("%.2f %s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.2f TB", v)
}

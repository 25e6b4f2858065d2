// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package credentials

// RenewalWaiters reports how many callers are waiting on a renewal of c.
func RenewalWaiters(c *Cache) int32 {
	return c.coordinator.waiting.Load()
}

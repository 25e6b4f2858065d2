// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"crypto/rand"
	"fmt"
	"time"
)

const (
	linuxOS = "linux"

	availabilityTestService = "credkeeper-test"
)

// GenerateUniqueTestKey creates a unique key name used for keyring availability checks.
// It combines a timestamp and random bytes to prevent naming collisions
// when multiple checks run concurrently.
func GenerateUniqueTestKey() string {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Sprintf("credkeeper-keyring-test-%d", time.Now().UnixNano())
	}

	return fmt.Sprintf("credkeeper-keyring-test-%d-%x", time.Now().UnixNano(), randomBytes)
}

// roundTrips checks that p can round-trip a value.
func roundTrips(p Provider) bool {
	key := GenerateUniqueTestKey()
	if err := p.Set(availabilityTestService, key, "test"); err != nil {
		return false
	}
	defer func() { _ = p.Delete(availabilityTestService, key) }()

	value, err := p.Get(availabilityTestService, key)
	return err == nil && value == "test"
}

//go:build property
// +build property

package message_test

import "time"

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func secondsDuration(s int) time.Duration { return time.Duration(s) * time.Second }

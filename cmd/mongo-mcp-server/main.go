// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command aav3 runs one autonomous multi-agent deliberation session: task
// text in, session directory and verdict.json out.
//
// # Usage
//
//	aav3 --task ./task.md
//	aav3 --task "Create a Python module hello.py ..." --max-rounds 10
//	aav3 sessions
//
// Exit code is 0 for any cleanly terminated session (done or cancelled,
// even with approved=false) and non-zero only for status "error".
package main

import (
	"os"

	"github.com/custodire/aav3/pkg/logging"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		logging.Default().Error("session failed", "error", err)
		os.Exit(1)
	}
}

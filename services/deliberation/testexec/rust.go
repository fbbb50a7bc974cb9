// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package testexec

import (
	"context"
	"os"
	"path/filepath"
)

// rustCheck runs a compile check when the workspace has a Cargo.toml.
func (e *Executor) rustCheck(ctx context.Context, workspace string) []Record {
	if _, err := os.Stat(filepath.Join(workspace, "Cargo.toml")); err != nil {
		return nil
	}
	name := "Cargo check"
	if !e.caps.Languages["rust"].Available {
		return []Record{skip(name, SuiteRustCheck, ReasonUnavailable)}
	}
	res, err := e.run(ctx, workspace, e.cfg.RustCheckTimeout(), "cargo", "check")
	return []Record{record(name, SuiteRustCheck, res, err)}
}

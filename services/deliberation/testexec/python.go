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
	"strings"

	"github.com/custodire/aav3/services/deliberation/datatypes"
)

// pythonSyntax compiles each created .py file to bytecode without executing
// it. One record per file.
func (e *Executor) pythonSyntax(ctx context.Context, workspace string, files []datatypes.FileSpec) []Record {
	var records []Record
	for _, f := range files {
		if !strings.HasSuffix(f.Path, ".py") {
			continue
		}
		name := "Python syntax: " + f.Path
		if !e.caps.Languages["python"].Available {
			records = append(records, skip(name, SuitePythonSyntax, ReasonUnavailable))
			continue
		}
		res, err := e.run(ctx, workspace, e.cfg.PythonSyntaxTimeout(),
			"python3", "-m", "py_compile", f.Path)
		records = append(records, record(name, SuitePythonSyntax, res, err))
	}
	return records
}

// pythonUnitTests runs unittest discovery when any test-looking file exists
// in the workspace.
func (e *Executor) pythonUnitTests(ctx context.Context, workspace string) []Record {
	if !hasTestFiles(workspace) {
		return nil
	}
	name := "Python unit tests"
	if !e.caps.Languages["python"].Available {
		return []Record{skip(name, SuitePythonUnit, ReasonUnavailable)}
	}
	res, err := e.run(ctx, workspace, e.cfg.UnitTestTimeout(),
		"python3", "-m", "unittest", "discover", "-v")
	return []Record{record(name, SuitePythonUnit, res, err)}
}

// hasTestFiles reports whether the workspace holds test_*.py or *_test.py.
func hasTestFiles(workspace string) bool {
	found := false
	filepath.WalkDir(workspace, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if strings.HasSuffix(base, ".py") &&
			(strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py")) {
			found = true
		}
		return nil
	})
	return found
}

// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package testexec

import (
	"context"
	"strings"

	"github.com/custodire/aav3/services/deliberation/datatypes"
)

// dockerBuild builds every created Dockerfile. The -f argument is always a
// workspace-relative path and the build context is "." with cwd = workspace;
// never build when Docker is missing.
func (e *Executor) dockerBuild(ctx context.Context, workspace string, files []datatypes.FileSpec) []Record {
	var records []Record
	index := 0
	for _, f := range files {
		if !strings.Contains(baseName(f.Path), "Dockerfile") {
			continue
		}
		name := "Docker build: " + f.Path
		if !e.caps.Docker.Available {
			records = append(records, skip(name, SuiteDockerBuild, ReasonUnavailable))
			continue
		}
		res, err := e.run(ctx, workspace, e.cfg.DockerBuildTimeout(),
			"docker", "build", "-f", f.Path, "-t", e.imageTag(index), ".")
		records = append(records, record(name, SuiteDockerBuild, res, err))
		index++
	}
	return records
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

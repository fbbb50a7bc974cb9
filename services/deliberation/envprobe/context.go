// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package envprobe

import (
	"fmt"
	"strings"
)

// PlannerContext renders the constraint block injected into the Planner
// prompt. Negative findings are phrased as prohibitions; agents proposing
// Docker builds on Docker-less hosts was the failure mode this block exists
// to stop.
func PlannerContext(caps Capabilities) string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	b.WriteString("ENVIRONMENT CAPABILITIES & CONSTRAINTS:\n")
	b.WriteString(rule + "\n\n")

	var constraints []string
	if !caps.Docker.Available {
		constraints = append(constraints,
			"⚠ Docker NOT available: do not propose Docker builds, container tests, "+
				"or Dockerfile validation. Suggest static analysis of Dockerfiles only.")
	}
	if !caps.GPU.Any() {
		constraints = append(constraints,
			"⚠ No GPU detected: do not propose GPU-dependent tests (TensorFlow GPU, "+
				"CUDA kernels, GPU rendering). CPU-only tests recommended.")
	}
	if !caps.Network.Internet {
		constraints = append(constraints,
			"⚠ No network access: do not propose tests requiring downloads, git clone, "+
				"pip install, npm install, or external API calls. Use pre-existing files only.")
	}

	if len(constraints) > 0 {
		b.WriteString("CRITICAL CONSTRAINTS:\n")
		for _, c := range constraints {
			b.WriteString(c + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("AVAILABLE CAPABILITIES:\n")

	if caps.Docker.Available {
		fmt.Fprintf(&b, "✓ Docker: %s\n", caps.Docker.Version)
		if caps.Docker.Compose {
			b.WriteString("  - Docker Compose: can test multi-container setups\n")
		}
		if caps.Docker.Buildx {
			b.WriteString("  - Buildx: can test multi-platform builds\n")
		}
	}

	if caps.GPU.NVIDIA {
		fmt.Fprintf(&b, "✓ NVIDIA GPU present (%d device(s))", len(caps.GPU.Devices))
		if caps.GPU.CUDAVersion != "" {
			fmt.Fprintf(&b, " — %s", caps.GPU.CUDAVersion)
		}
		b.WriteString(": CUDA/TensorFlow/PyTorch GPU tests are allowed\n")
	}

	if caps.Network.Internet {
		b.WriteString("✓ Network: can download dependencies, clone repos, test APIs\n")
	}

	var langs []string
	for _, check := range languageChecks {
		if caps.Languages[check.key].Available {
			langs = append(langs, check.key)
		}
	}
	if len(langs) > 0 {
		b.WriteString("✓ Languages: " + strings.Join(langs, ", ") + "\n")
	}

	var tools []string
	for _, tool := range []struct {
		name string
		ok   bool
	}{
		{"git", caps.Security.Git},
		{"grep", caps.Security.Grep},
		{"trivy", caps.Security.Trivy},
		{"syft", caps.Security.Syft},
		{"grype", caps.Security.Grype},
		{"pip-audit", caps.Security.PipAudit},
	} {
		if tool.ok {
			tools = append(tools, tool.name)
		}
	}
	if len(tools) > 0 {
		b.WriteString("✓ Security tools: " + strings.Join(tools, ", ") + "\n")
	}

	b.WriteString("\nRECOMMENDATION: choose tests that match available capabilities.\n")
	b.WriteString(rule)
	return b.String()
}

// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package envprobe detects host capabilities before planning.
//
// The probe runs once per session, before the Planner is invoked, and its
// output is injected into the Planner prompt as a constraint block. A probe
// that times out or fails records "not available"; probe failure never
// aborts the session. Capabilities are never recomputed mid-session.
package envprobe

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/custodire/aav3/services/deliberation/subproc"
)

// DockerCaps describes container tooling.
type DockerCaps struct {
	Available bool   `json:"available"`
	Compose   bool   `json:"compose"`
	Buildx    bool   `json:"buildx"`
	Version   string `json:"version"`
}

// GPUCaps describes accelerator availability.
type GPUCaps struct {
	NVIDIA      bool     `json:"nvidia"`
	AMD         bool     `json:"amd"`
	Apple       bool     `json:"apple"`
	CUDAVersion string   `json:"cuda_version"`
	Devices     []string `json:"devices"`
}

// Any reports whether any GPU was detected.
func (g GPUCaps) Any() bool { return g.NVIDIA || g.AMD || g.Apple }

// Language describes one runtime.
type Language struct {
	Available bool   `json:"available"`
	Version   string `json:"version"`
}

// SecurityCaps lists scanner availability.
type SecurityCaps struct {
	Git      bool `json:"git"`
	Grep     bool `json:"grep"`
	Trivy    bool `json:"trivy"`
	Syft     bool `json:"syft"`
	Grype    bool `json:"grype"`
	PipAudit bool `json:"pip_audit"`
}

// NetworkCaps lists reachability of common endpoints.
type NetworkCaps struct {
	Internet bool `json:"internet"`
	GitHub   bool `json:"github"`
	PyPI     bool `json:"pypi"`
	NPM      bool `json:"npm"`
}

// MultimediaCaps lists media tooling.
type MultimediaCaps struct {
	FFmpeg      bool `json:"ffmpeg"`
	ImageMagick bool `json:"imagemagick"`
	OpenCV      bool `json:"opencv"`
}

// Capabilities is the full preflight report, persisted as environment.json.
type Capabilities struct {
	Docker     DockerCaps          `json:"docker"`
	GPU        GPUCaps             `json:"gpu"`
	Languages  map[string]Language `json:"languages"`
	Security   SecurityCaps        `json:"security"`
	Network    NetworkCaps         `json:"network"`
	Multimedia MultimediaCaps      `json:"multimedia"`
	Summary    string              `json:"summary"`
}

// Probe runs the detection commands.
type Probe struct {
	runner  subproc.Runner
	timeout time.Duration
	goos    string
	goarch  string
}

// New creates a probe with per-command timeout. Timeouts above 5s are
// clamped; detection commands must stay short.
func New(runner subproc.Runner, timeout time.Duration) *Probe {
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Probe{runner: runner, timeout: timeout, goos: runtime.GOOS, goarch: runtime.GOARCH}
}

// ok runs a command and reports clean-exit success with its first stdout line.
func (p *Probe) ok(ctx context.Context, name string, args ...string) (bool, string) {
	res, err := p.runner.Run(ctx, subproc.Spec{Name: name, Args: args, Timeout: p.timeout})
	if err != nil || !res.Ok() {
		return false, ""
	}
	return true, firstLine(res.Stdout)
}

// Run executes every detection command and assembles the report.
func (p *Probe) Run(ctx context.Context) Capabilities {
	caps := Capabilities{
		Docker:     p.docker(ctx),
		GPU:        p.gpu(ctx),
		Languages:  p.languages(ctx),
		Security:   p.security(ctx),
		Network:    p.network(ctx),
		Multimedia: p.multimedia(ctx),
	}
	caps.Summary = summarize(caps)
	return caps
}

func (p *Probe) docker(ctx context.Context) DockerCaps {
	var d DockerCaps
	avail, version := p.ok(ctx, "docker", "--version")
	if !avail {
		return d
	}
	d.Available = true
	d.Version = version
	d.Compose, _ = p.ok(ctx, "docker", "compose", "version")
	d.Buildx, _ = p.ok(ctx, "docker", "buildx", "version")
	return d
}

func (p *Probe) gpu(ctx context.Context) GPUCaps {
	var g GPUCaps
	res, err := p.runner.Run(ctx, subproc.Spec{
		Name:    "nvidia-smi",
		Args:    []string{"--query-gpu=name,driver_version,memory.total", "--format=csv,noheader"},
		Timeout: p.timeout,
	})
	if err == nil && res.Ok() {
		g.NVIDIA = true
		for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				g.Devices = append(g.Devices, line)
			}
		}
		if ok, _ := p.ok(ctx, "nvcc", "--version"); ok {
			res, err := p.runner.Run(ctx, subproc.Spec{Name: "nvcc", Args: []string{"--version"}, Timeout: p.timeout})
			if err == nil {
				for _, line := range strings.Split(res.Stdout, "\n") {
					if strings.Contains(strings.ToLower(line), "release") {
						g.CUDAVersion = strings.TrimSpace(line)
						break
					}
				}
			}
		}
	}
	g.AMD, _ = p.ok(ctx, "rocm-smi", "--showproductname")
	if p.goos == "darwin" && p.goarch == "arm64" {
		g.Apple = true
	}
	return g
}

// languageChecks maps the reported language keys to their version commands.
var languageChecks = []struct {
	key  string
	name string
	args []string
}{
	{"python", "python3", []string{"--version"}},
	{"node", "node", []string{"--version"}},
	{"rust", "rustc", []string{"--version"}},
	{"go", "go", []string{"version"}},
	{"java", "java", []string{"-version"}},
}

func (p *Probe) languages(ctx context.Context) map[string]Language {
	out := make(map[string]Language, len(languageChecks))
	for _, check := range languageChecks {
		avail, version := p.ok(ctx, check.name, check.args...)
		out[check.key] = Language{Available: avail, Version: version}
	}
	return out
}

func (p *Probe) security(ctx context.Context) SecurityCaps {
	var s SecurityCaps
	s.Git, _ = p.ok(ctx, "git", "--version")
	s.Grep, _ = p.ok(ctx, "grep", "--version")
	s.Trivy, _ = p.ok(ctx, "trivy", "--version")
	s.Syft, _ = p.ok(ctx, "syft", "version")
	s.Grype, _ = p.ok(ctx, "grype", "version")
	s.PipAudit, _ = p.ok(ctx, "pip-audit", "--version")
	return s
}

func (p *Probe) network(ctx context.Context) NetworkCaps {
	var n NetworkCaps
	n.Internet, _ = p.ok(ctx, "ping", "-c", "1", "-W", "2", "8.8.8.8")
	n.GitHub, _ = p.ok(ctx, "nslookup", "github.com")
	n.PyPI, _ = p.ok(ctx, "nslookup", "pypi.org")
	n.NPM, _ = p.ok(ctx, "nslookup", "registry.npmjs.org")
	return n
}

func (p *Probe) multimedia(ctx context.Context) MultimediaCaps {
	var m MultimediaCaps
	m.FFmpeg, _ = p.ok(ctx, "ffmpeg", "-version")
	m.ImageMagick, _ = p.ok(ctx, "convert", "--version")
	m.OpenCV, _ = p.ok(ctx, "python3", "-c", "import cv2")
	return m
}

// summarize renders the human-readable capability summary.
func summarize(caps Capabilities) string {
	var lines []string

	if caps.Docker.Available {
		lines = append(lines, fmt.Sprintf("✓ Docker: %s", caps.Docker.Version))
		if caps.Docker.Compose {
			lines = append(lines, "  - Docker Compose available")
		}
	} else {
		lines = append(lines, "✗ Docker: NOT AVAILABLE (Docker builds/tests will fail)")
	}

	switch {
	case caps.GPU.NVIDIA:
		lines = append(lines, fmt.Sprintf("✓ NVIDIA GPU: %d device(s)", len(caps.GPU.Devices)))
		if caps.GPU.CUDAVersion != "" {
			lines = append(lines, "  - "+caps.GPU.CUDAVersion)
		}
	case caps.GPU.AMD:
		lines = append(lines, "✓ AMD GPU detected")
	case caps.GPU.Apple:
		lines = append(lines, "✓ Apple Silicon GPU detected")
	default:
		lines = append(lines, "✗ No GPU detected (GPU tests will be skipped)")
	}

	if caps.Network.Internet {
		lines = append(lines, "✓ Network: Internet access available")
	} else {
		lines = append(lines, "✗ Network: NO INTERNET (downloads/clones will fail)")
	}

	var langs []string
	for _, check := range languageChecks {
		if caps.Languages[check.key].Available {
			langs = append(langs, check.key)
		}
	}
	lines = append(lines, "✓ Languages: "+strings.Join(langs, ", "))

	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

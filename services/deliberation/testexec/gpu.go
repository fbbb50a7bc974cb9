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
	"time"
)

// Minimal CUDA program used for the compile-and-run smoke check.
const cudaHello = `#include <stdio.h>

__global__ void hello_cuda() {
    printf("Hello from GPU thread %d\n", threadIdx.x);
}

int main() {
    hello_cuda<<<1, 1>>>();
    cudaDeviceSynchronize();
    return 0;
}
`

const tfProbe = `import sys
try:
    import tensorflow as tf
    gpus = tf.config.list_physical_devices('GPU')
    print(f"TensorFlow {tf.__version__}: {len(gpus)} GPU(s) detected")
    sys.exit(0 if len(gpus) > 0 else 1)
except ImportError:
    sys.exit(2)
`

const torchProbe = `import sys
try:
    import torch
    cuda = torch.cuda.is_available()
    print(f"PyTorch {torch.__version__}: CUDA={cuda}")
    sys.exit(0 if cuda else 1)
except ImportError:
    sys.exit(2)
`

// frameworkMissingExit is the probe script exit code for an absent import;
// it skips the sub-test instead of failing it.
const frameworkMissingExit = 2

// gpuSmoke runs the GPU availability sub-tests. No GPU detected means every
// sub-test is skipped, never failed.
func (e *Executor) gpuSmoke(ctx context.Context, workspace string) []Record {
	names := []string{
		"nvidia-smi",
		"CUDA compiler present",
		"CUDA hello world",
		"TensorFlow GPU",
		"PyTorch CUDA",
	}

	if !e.caps.GPU.Any() {
		var records []Record
		for _, n := range names {
			records = append(records, skip(n, SuiteGPUSmoke, ReasonUnavailable))
		}
		return records
	}

	var records []Record
	timeout := e.cfg.GPUSmokeTimeout()

	// nvidia-smi must answer on a host that claims an NVIDIA GPU.
	if e.caps.GPU.NVIDIA {
		res, err := e.run(ctx, workspace, timeout, "nvidia-smi")
		records = append(records, record(names[0], SuiteGPUSmoke, res, err))
	} else {
		records = append(records, skip(names[0], SuiteGPUSmoke, ReasonUnavailable))
	}

	// nvcc and the hello-world compile are optional extras.
	nvccRes, nvccErr := e.run(ctx, workspace, timeout, "nvcc", "--version")
	if nvccErr != nil || !nvccRes.Ok() {
		records = append(records, skip(names[1], SuiteGPUSmoke, ReasonUnavailable))
		records = append(records, skip(names[2], SuiteGPUSmoke, ReasonUnavailable))
	} else {
		records = append(records, record(names[1], SuiteGPUSmoke, nvccRes, nil))
		records = append(records, e.cudaHelloWorld(ctx, workspace, timeout))
	}

	records = append(records, e.pythonProbe(ctx, workspace, timeout, names[3], "aav3_tf_probe.py", tfProbe))
	records = append(records, e.pythonProbe(ctx, workspace, timeout, names[4], "aav3_torch_probe.py", torchProbe))
	return records
}

// cudaHelloWorld writes, compiles, and executes a one-kernel CUDA program.
func (e *Executor) cudaHelloWorld(ctx context.Context, workspace string, timeout time.Duration) Record {
	name := "CUDA hello world"
	src := filepath.Join(workspace, "aav3_gpu_test.cu")
	if err := os.WriteFile(src, []byte(cudaHello), 0o644); err != nil {
		return Record{TestName: name, Suite: SuiteGPUSmoke, Result: ResultFail, Reason: ReasonLaunchFailed, StderrExcerpt: excerpt(err.Error())}
	}
	defer os.Remove(src)
	defer os.Remove(filepath.Join(workspace, "aav3_gpu_test"))

	res, err := e.run(ctx, workspace, timeout, "nvcc", "aav3_gpu_test.cu", "-o", "aav3_gpu_test")
	if err != nil || !res.Ok() {
		return record(name, SuiteGPUSmoke, res, err)
	}
	res, err = e.run(ctx, workspace, timeout, "./aav3_gpu_test")
	return record(name, SuiteGPUSmoke, res, err)
}

// pythonProbe runs a framework detection script; an absent framework is a
// skip, a present-but-GPU-less framework is a fail.
func (e *Executor) pythonProbe(ctx context.Context, workspace string, timeout time.Duration, name, fileName, script string) Record {
	if !e.caps.Languages["python"].Available {
		return skip(name, SuiteGPUSmoke, ReasonUnavailable)
	}
	path := filepath.Join(workspace, fileName)
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return Record{TestName: name, Suite: SuiteGPUSmoke, Result: ResultFail, Reason: ReasonLaunchFailed, StderrExcerpt: excerpt(err.Error())}
	}
	defer os.Remove(path)

	res, err := e.run(ctx, workspace, timeout, "python3", fileName)
	if err == nil && !res.TimedOut && res.ExitCode == frameworkMissingExit {
		return skip(name, SuiteGPUSmoke, ReasonUnavailable)
	}
	return record(name, SuiteGPUSmoke, res, err)
}

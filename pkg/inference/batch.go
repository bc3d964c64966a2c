package inference

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// AcceleratorProbe answers how much memory the local accelerator has.
type AcceleratorProbe interface {
	// Available reports whether an accelerator is present at all.
	Available() bool

	// TotalMemoryBytes returns the device's total memory. An error
	// means the device exists but could not be queried.
	TotalMemoryBytes() (uint64, error)
}

const gib = uint64(1) << 30

// BatchPolicy resolves how many volume slices are submitted to the
// segmentation model per forward pass. Priority: explicit caller value,
// then the configured override (populated from the environment at
// startup), then a heuristic tiered on accelerator memory.
type BatchPolicy struct {
	// ConfiguredSize is the override from configuration; zero or
	// negative means unset.
	ConfiguredSize int

	// Probe supplies accelerator memory for the heuristic tier. A nil
	// probe behaves like an absent accelerator.
	Probe AcceleratorProbe
}

// Resolve returns the effective slice batch size. Non-positive explicit
// values fall through to the next tier.
func (p BatchPolicy) Resolve(explicit int) int {
	if explicit > 0 {
		return explicit
	}
	if p.ConfiguredSize > 0 {
		return p.ConfiguredSize
	}
	return p.heuristic()
}

func (p BatchPolicy) heuristic() int {
	if p.Probe == nil || !p.Probe.Available() {
		return 1
	}
	total, err := p.Probe.TotalMemoryBytes()
	if err != nil {
		return 2
	}
	switch {
	case total < 6*gib:
		return 1
	case total < 8*gib:
		return 2
	case total < 12*gib:
		return 3
	case total < 16*gib:
		return 4
	case total < 24*gib:
		return 6
	default:
		return 8
	}
}

// NvidiaSMIProbe queries device memory through the nvidia-smi binary.
type NvidiaSMIProbe struct{}

// Available reports whether nvidia-smi is on PATH.
func (NvidiaSMIProbe) Available() bool {
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}

// TotalMemoryBytes returns the total memory of the first GPU.
func (NvidiaSMIProbe) TotalMemoryBytes() (uint64, error) {
	out, err := exec.Command("nvidia-smi",
		"--query-gpu=memory.total", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, fmt.Errorf("querying nvidia-smi: %w", err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	mib, err := strconv.ParseUint(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing nvidia-smi output %q: %w", line, err)
	}
	return mib << 20, nil
}

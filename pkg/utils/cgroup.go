package utils

import (
	"fmt"

	"github.com/containerd/cgroups"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// CPUGroup is a v1 cgroup that limits the encoder processes placed in it.
type CPUGroup struct {
	path    string
	control cgroups.Cgroup
}

func NewCPUGroup(path string, shares uint64) (*CPUGroup, error) {
	if shares == 0 {
		shares = 1024
	}
	control, err := cgroups.New(
		cgroups.V1,
		cgroups.StaticPath(path),
		&specs.LinuxResources{
			CPU: &specs.LinuxCPU{
				Shares: &shares,
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cgroup %s: %w", path, err)
	}
	return &CPUGroup{path: path, control: control}, nil
}

func (g *CPUGroup) Add(pid int) error {
	if err := g.control.Add(cgroups.Process{Pid: pid}); err != nil {
		return fmt.Errorf("failed to add pid %d to cgroup %s: %w", pid, g.path, err)
	}
	return nil
}

func (g *CPUGroup) Close() error {
	return g.control.Delete()
}

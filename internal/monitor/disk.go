package monitor

import (
	"context"

	"github.com/shirou/gopsutil/v3/disk"
)

// Usage is one sample of the cache filesystem.
type Usage struct {
	Used  uint64
	Total uint64
}

// DiskSampler reads filesystem usage for the cache path the mover
// drains. Tests substitute a stub.
type DiskSampler interface {
	Sample(ctx context.Context) (Usage, error)
}

type diskSampler struct {
	path string
}

func NewDiskSampler(path string) DiskSampler {
	return &diskSampler{path: path}
}

func (s *diskSampler) Sample(ctx context.Context) (Usage, error) {
	st, err := disk.UsageWithContext(ctx, s.path)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Used: st.Used, Total: st.Total}, nil
}

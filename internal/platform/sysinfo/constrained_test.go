package sysinfo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fixedProbe(mb uint64, err error) MemoryProbe {
	return func(context.Context) (uint64, error) {
		return mb * 1024 * 1024, err
	}
}

func TestConstrained(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		mode  string
		min   int
		probe MemoryProbe
		want  bool
	}{
		{name: "forced on", mode: "on", probe: fixedProbe(64*1024, nil), want: true},
		{name: "forced off", mode: "OFF", probe: fixedProbe(256, nil), want: false},
		{name: "auto small host", mode: "auto", min: 1024, probe: fixedProbe(512, nil), want: true},
		{name: "auto large host", mode: "auto", min: 1024, probe: fixedProbe(8192, nil), want: false},
		{name: "auto default threshold", mode: "", probe: fixedProbe(1024, nil), want: true},
		{name: "probe failure", mode: "auto", probe: fixedProbe(0, errors.New("no /proc")), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Constrained(ctx, tt.mode, tt.min, tt.probe))
		})
	}
}

func TestHostMemory(t *testing.T) {
	total, err := HostMemory(context.Background())
	if err != nil {
		t.Skipf("memory probe unavailable: %v", err)
	}
	assert.Greater(t, total, uint64(0))
}

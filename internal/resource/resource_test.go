package resource_test

import (
	"os"
	"testing"

	"github.com/DM-Mulani-963/LOGify/internal/resource"
)

func TestCompute_DerivesRequirementFromFileCount(t *testing.T) {
	req := resource.Compute(1000, 2, 100, 10, 2, 1024, 524288)

	if req.FileCount != 1000 {
		t.Errorf("FileCount = %d, want 1000", req.FileCount)
	}
	if req.NeededFDs != 1000*2+100 {
		t.Errorf("NeededFDs = %d, want %d", req.NeededFDs, 1000*2+100)
	}
	if req.NeededInstances != 1000/10+1 {
		t.Errorf("NeededInstances = %d, want %d", req.NeededInstances, 1000/10+1)
	}
	if req.NeededWatches != 1000*2 {
		t.Errorf("NeededWatches = %d, want %d", req.NeededWatches, 1000*2)
	}
	if req.MinInstanceFloor != 1024 || req.MinWatchFloor != 524288 {
		t.Errorf("floors = %d/%d, want 1024/524288", req.MinInstanceFloor, req.MinWatchFloor)
	}
}

func TestCompute_ZeroFiles_StillAccountsForOverhead(t *testing.T) {
	req := resource.Compute(0, 2, 100, 10, 2, 1024, 524288)
	if req.NeededFDs != 100 {
		t.Errorf("NeededFDs = %d, want 100 (overhead only)", req.NeededFDs)
	}
	if req.NeededInstances != 1 {
		t.Errorf("NeededInstances = %d, want 1", req.NeededInstances)
	}
	if req.NeededWatches != 0 {
		t.Errorf("NeededWatches = %d, want 0", req.NeededWatches)
	}
}

func TestGuard_IsPrivileged_ReflectsEffectiveUID(t *testing.T) {
	var g resource.Guard
	want := os.Geteuid() == 0
	if got := g.IsPrivileged(); got != want {
		t.Errorf("IsPrivileged() = %v, want %v", got, want)
	}
}

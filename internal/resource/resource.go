// Package resource implements the LOGify agent's resource guard: before any
// file is tailed it negotiates file-descriptor and inotify limits with the
// kernel, raising them when possible and reporting a clear, actionable error
// when it cannot. The formulas are carried over verbatim from
// original_source/cli/logify/scheduler.py's check_and_fix_system_limits.
package resource

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrResourceLimit is returned when the host's resource limits are
// insufficient for the requested file count and the process lacks the
// privilege to raise them.
var ErrResourceLimit = errors.New("resource: insufficient system limits")

const (
	sysctlMaxInstances = "/proc/sys/fs/inotify/max_user_instances"
	sysctlMaxWatches   = "/proc/sys/fs/inotify/max_user_watches"
	sysctlConfPath     = "/etc/sysctl.conf"
)

// Requirement describes the resources needed to watch a given file count.
type Requirement struct {
	FileCount        int
	NeededFDs        int
	NeededInstances  int
	NeededWatches    int
	MinInstanceFloor int
	MinWatchFloor    int
}

// Compute derives a Requirement from fileCount using the fd-per-file,
// overhead, and floor constants supplied by rulesconfig.SchedulerRules.
func Compute(fileCount, fdPerFile, fdOverhead, instancesPerFiles, watchesPerFile, minInstanceFloor, minWatchFloor int) Requirement {
	return Requirement{
		FileCount:        fileCount,
		NeededFDs:        fileCount*fdPerFile + fdOverhead,
		NeededInstances:  fileCount/instancesPerFiles + 1,
		NeededWatches:    fileCount * watchesPerFile,
		MinInstanceFloor: minInstanceFloor,
		MinWatchFloor:    minWatchFloor,
	}
}

// Report summarizes the outcome of a Guard.Ensure call for logging.
type Report struct {
	FDSoftBefore, FDHardBefore int64
	FDSoftAfter                int64
	InstancesBefore, InstancesAfter int
	WatchesBefore, WatchesAfter     int
	Raised                          bool
}

// Guard negotiates resource limits with the kernel. A zero Guard is usable;
// IsPrivileged is recomputed on every call rather than cached, since a
// long-running agent's effective UID cannot change, but tests may construct
// a Guard without calling through a privileged path at all.
type Guard struct{}

// IsPrivileged reports whether the current process is effectively root,
// mirroring scheduler.py's `os.geteuid() == 0`.
func (Guard) IsPrivileged() bool {
	return os.Geteuid() == 0
}

// Ensure raises file-descriptor and inotify limits to satisfy req where
// possible. When the soft FD limit is below req.NeededFDs but the hard limit
// is sufficient, the soft limit is raised without privilege. When inotify
// limits are insufficient and the process is privileged, both the live
// sysctl values and /etc/sysctl.conf are updated so the fix survives a
// reboot. When limits are insufficient and cannot be raised, Ensure returns
// a Report alongside ErrResourceLimit so the caller can log actionable
// guidance (the ulimit/sysctl commands an operator would run by hand) and
// decide whether to proceed in a degraded mode.
func (g Guard) Ensure(req Requirement) (Report, error) {
	var rpt Report

	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return rpt, fmt.Errorf("resource: getrlimit NOFILE: %w", err)
	}
	rpt.FDSoftBefore = int64(rlim.Cur)
	rpt.FDHardBefore = int64(rlim.Max)
	rpt.FDSoftAfter = rpt.FDSoftBefore

	var fdErr error
	if rlim.Cur < uint64(req.NeededFDs) {
		switch {
		case rlim.Max >= uint64(req.NeededFDs):
			rlim.Cur = uint64(req.NeededFDs)
			if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
				fdErr = fmt.Errorf("resource: raise soft NOFILE to %d: %w", req.NeededFDs, err)
			} else {
				rpt.FDSoftAfter = int64(req.NeededFDs)
				rpt.Raised = true
			}
		case g.IsPrivileged():
			newLimit := uint64(req.NeededFDs)
			if newLimit < 65536 {
				newLimit = 65536
			}
			raised := unix.Rlimit{Cur: newLimit, Max: newLimit}
			if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &raised); err != nil {
				fdErr = fmt.Errorf("resource: raise hard+soft NOFILE to %d: %w", newLimit, err)
			} else {
				rpt.FDSoftAfter = int64(newLimit)
				rpt.Raised = true
			}
		default:
			fdErr = fmt.Errorf("%w: file descriptor limit %d below required %d (run: ulimit -n %d)",
				ErrResourceLimit, rlim.Cur, req.NeededFDs, req.NeededFDs)
		}
	}

	instances, instErr := readSysctlInt(sysctlMaxInstances)
	watches, watchErr := readSysctlInt(sysctlMaxWatches)
	if instErr != nil || watchErr != nil {
		// inotify accounting is Linux/proc-specific; on platforms without it
		// (or sandboxes without /proc), treat it as "not applicable" rather
		// than fail the whole guard.
		if fdErr != nil {
			return rpt, fdErr
		}
		return rpt, nil
	}
	rpt.InstancesBefore, rpt.InstancesAfter = instances, instances
	rpt.WatchesBefore, rpt.WatchesAfter = watches, watches

	needsFix := instances < req.NeededInstances || watches < req.NeededWatches
	if !needsFix {
		if fdErr != nil {
			return rpt, fdErr
		}
		return rpt, nil
	}

	newInstances := maxInt(req.MinInstanceFloor, req.NeededInstances*2)
	newWatches := maxInt(req.MinWatchFloor, req.NeededWatches*2)

	if !g.IsPrivileged() {
		err := fmt.Errorf(
			"%w: inotify instances=%d watches=%d below required instances~%d watches~%d "+
				"(run: echo 'fs.inotify.max_user_instances=%d' | sudo tee -a %s && "+
				"echo 'fs.inotify.max_user_watches=%d' | sudo tee -a %s && sudo sysctl -p)",
			ErrResourceLimit, instances, watches, req.NeededInstances, req.NeededWatches,
			newInstances, sysctlConfPath, newWatches, sysctlConfPath,
		)
		if fdErr != nil {
			return rpt, errors.Join(fdErr, err)
		}
		return rpt, err
	}

	if err := writeSysctlInt(sysctlMaxInstances, newInstances); err != nil {
		return rpt, fmt.Errorf("resource: raise max_user_instances: %w", err)
	}
	if err := writeSysctlInt(sysctlMaxWatches, newWatches); err != nil {
		return rpt, fmt.Errorf("resource: raise max_user_watches: %w", err)
	}
	if err := persistSysctl(newInstances, newWatches); err != nil {
		return rpt, fmt.Errorf("resource: persist sysctl.conf: %w", err)
	}

	rpt.InstancesAfter = newInstances
	rpt.WatchesAfter = newWatches
	rpt.Raised = true

	if fdErr != nil {
		return rpt, fdErr
	}
	return rpt, nil
}

func readSysctlInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %q: %w", path, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", path, err)
	}
	return v, nil
}

func writeSysctlInt(path string, v int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(v)+"\n"), 0o644)
}

func persistSysctl(instances, watches int) error {
	f, err := os.OpenFile(sysctlConfPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "\n# LOGify auto-configured limits\nfs.inotify.max_user_instances=%d\nfs.inotify.max_user_watches=%d\n",
		instances, watches)
	return err
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package logsource

import (
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// FindOrphans returns the PIDs of processes running exactly argv that were
// re-parented to init, i.e. sources left behind by a previous daemon that
// died without draining them.
func FindOrphans(argv []string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	self := int32(os.Getpid())
	var pids []int
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		ppid, err := p.Ppid()
		if err != nil || ppid != 1 {
			continue
		}
		cmdline, err := p.CmdlineSlice()
		if err != nil || !slices.Equal(cmdline, argv) {
			continue
		}
		pids = append(pids, int(p.Pid))
	}
	return pids, nil
}

// KillOrphans terminates every orphaned source matching argv and returns how
// many were signalled.
func KillOrphans(argv []string) int {
	pids, err := FindOrphans(argv)
	if err != nil {
		slog.Warn("Failed to search for orphan log sources", "error", err)
		return 0
	}

	killed := 0
	for _, pid := range pids {
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			continue
		}
		if err := p.Terminate(); err != nil {
			slog.Error("Failed to terminate orphan log source", "pid", pid, "error", err)
			continue
		}
		slog.Warn("Terminated orphan log source", "pid", pid)
		killed++
	}
	return killed
}

// Stats is a point-in-time view of a running source process.
type Stats struct {
	Pid       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	RSSBytes  uint64    `json:"rss_bytes"`
	CPU       float64   `json:"cpu_percent"`
}

// ReadStats collects Stats for pid. Fields that cannot be read are left zero.
func ReadStats(pid int) (Stats, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Stats{}, err
	}

	st := Stats{Pid: pid}
	if ms, err := p.CreateTime(); err == nil {
		st.StartedAt = time.UnixMilli(ms)
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPU = cpu
	}
	return st, nil
}

//go:build unix

package procexec

import (
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/vk/pdctl/internal/metrics"
)

func usageOf(ps *os.ProcessState) metrics.Usage {
	ru, ok := ps.SysUsage().(*syscall.Rusage)
	if !ok || ru == nil {
		return metrics.Usage{User: ps.UserTime(), System: ps.SystemTime()}
	}
	rss := int64(ru.Maxrss)
	if runtime.GOOS != "darwin" && runtime.GOOS != "ios" {
		// Everywhere else ru_maxrss is in kilobytes.
		rss *= 1024
	}
	return metrics.Usage{
		User:   time.Duration(ru.Utime.Nano()),
		System: time.Duration(ru.Stime.Nano()),
		MaxRSS: rss,
	}
}

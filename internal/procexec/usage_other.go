//go:build !unix

package procexec

import (
	"os"

	"github.com/vk/pdctl/internal/metrics"
)

func usageOf(ps *os.ProcessState) metrics.Usage {
	return metrics.Usage{User: ps.UserTime(), System: ps.SystemTime()}
}

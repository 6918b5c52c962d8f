package confirm

import "github.com/operant-labs/toolgate/internal/fault"

func errInvalidDecision(d Decision) error {
	return fault.New(fault.InvalidArgument, "unknown decision %q", d)
}

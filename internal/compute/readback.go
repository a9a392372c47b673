package compute

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/seathru/internal/errs"
	"github.com/banshee-data/seathru/internal/timeutil"
)

// ReadBuffer maps buf and waits for the bytes, giving up with
// ErrMappingTimeout after timeout on clock.
func ReadBuffer(ctx context.Context, d Device, buf Buffer, timeout time.Duration, clock timeutil.Clock) ([]byte, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ch := d.MapRead(ctx, buf)
	timer := clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.Data, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C():
		return nil, fmt.Errorf("%w: %q not mapped within %v", errs.ErrMappingTimeout, buf.Label(), timeout)
	}
}

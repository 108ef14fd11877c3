package httpclient

import (
	"context"
	"testing"
)

// contextForTest mirrors testing.T.Context (Go 1.24+): the returned context
// is canceled when the test finishes.
func contextForTest(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

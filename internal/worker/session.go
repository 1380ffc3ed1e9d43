package worker

import (
	"fmt"

	"github.com/hyperjump/umekomi/internal/onnx"
)

// sessionCache lazily creates and exclusively owns one runtime session. The
// session field has exactly two states: nil before the first successful
// creation and owned afterwards; it is never replaced or re-checked.
type sessionCache struct {
	api  onnx.API
	sess onnx.Session
}

// get returns the cached session, creating the API and session on first use.
// The request's library path override is read only during that first
// creation.
func (c *sessionCache) get(cfg Config, req *Request) (onnx.Session, error) {
	if c.sess != nil {
		return c.sess, nil
	}
	if c.api == nil {
		api, err := cfg.NewAPI(onnx.Config{LibraryPath: req.LibraryPath})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
		c.api = api
	}
	sess, err := c.api.NewSession(req.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", req.ModelPath, err)
	}
	c.sess = sess
	return c.sess, nil
}

// release runs at shutdown. Sessions are kept loaded for the life of the
// process, so the native session is not destroyed here.
func (c *sessionCache) release() {}

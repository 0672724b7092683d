package connctx

// onWorker wraps fn so it always runs submitted to this interception's
// worker with the meta mutex held, regardless of which goroutine the pipe
// layer calls it from (§5: "every callback for that interception runs on
// that worker").
func (c *ConnCtx) onWorker(fn func()) func() {
	return func() {
		c.worker.Submit(func() {
			c.meta.mu.Lock()
			defer c.meta.mu.Unlock()
			fn()
		})
	}
}

func (c *ConnCtx) onWorkerErr(fn func(error)) func(error) {
	return func(err error) {
		c.worker.Submit(func() {
			c.meta.mu.Lock()
			defer c.meta.mu.Unlock()
			fn(err)
		})
	}
}

func (c *ChildCtx) onWorker(fn func()) func() {
	return func() {
		c.meta.worker.Submit(func() {
			c.meta.mu.Lock()
			defer c.meta.mu.Unlock()
			fn()
		})
	}
}

func (c *ChildCtx) onWorkerErr(fn func(error)) func(error) {
	return func(err error) {
		c.meta.worker.Submit(func() {
			c.meta.mu.Lock()
			defer c.meta.mu.Unlock()
			fn(err)
		})
	}
}

package safe

import (
	"GProject/logger"
)

// Go starts a new goroutine that recovers from panic,
// so a panicking handler doesn't take the whole process down.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}

// Run invokes f on the current goroutine with panic recovery.
// The recovered value, if any, is returned so the call site can
// translate it into a proper error response.
func Run(f func()) (recovered any) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
			logger.Errorf("[safe.Run] panic recovered: %v", r)
		}
	}()
	f()
	return nil
}

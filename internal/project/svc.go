package project

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/zot/uigen/internal/logging"
)

// traceSvc logs every queued function at debug level.
var traceSvc atomic.Bool

var svcCount atomic.Int64

// ChanSvc is a serial executor: functions sent on it run one at a time on
// the goroutine started by RunSvc, in the order they were sent.
type ChanSvc chan func()

// SvcSync runs code on s and waits for its result. It must not be called
// from code already running on s.
func SvcSync[T any](s ChanSvc, code func() (T, error)) (T, error) {
	done := make(chan struct{})
	var value T
	var err error
	Svc(s, func() {
		defer close(done)
		value, err = code()
	})
	<-done
	return value, err
}

// Svc queues code on s. The send happens before Svc returns, so two calls
// from one goroutine run in call order.
func Svc(s ChanSvc, code func()) {
	if !traceSvc.Load() {
		s <- code
		return
	}
	n := svcCount.Add(1)
	log := logging.Named("svc")
	log.Debug("queue", zap.Int64("job", n))
	s <- func() {
		log.Debug("start", zap.Int64("job", n))
		code()
		log.Debug("end", zap.Int64("job", n))
	}
}

// RunSvc runs the executor until s is closed.
func RunSvc(s ChanSvc) {
	go func() {
		for job := range s {
			job()
		}
	}()
}

// SetTrace turns executor tracing on or off.
func SetTrace(on bool) {
	traceSvc.Store(on)
}

package partstore

import (
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("Scheduler", func() {
	errA := errors.New("task a failed")
	errB := errors.New("task b failed")

	It("should bound concurrency", func() {
		var running, peak int32
		s := NewGroupScheduler(2)
		for i := 0; i < 10; i++ {
			s.Go(func() error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}
		Expect(s.Wait()).To(Succeed())
		Expect(atomic.LoadInt32(&peak)).To(BeNumerically("<=", 2))
	})

	It("should collect all errors", func() {
		for _, s := range []Scheduler{NewGroupScheduler(4), SequentialScheduler(0)} {
			s.Go(func() error { return errA })
			s.Go(func() error { return nil })
			s.Go(func() error { return errB })

			err := s.Wait()
			Expect(errors.Is(err, errA)).To(BeTrue())
			Expect(errors.Is(err, errB)).To(BeTrue())
		}
	})
})

var _ = Describe("lockArena", func() {
	It("should hand out one mutex per name", func() {
		a := newLockArena()
		Expect(a.Get("x")).To(BeIdenticalTo(a.Get("x")))
		Expect(a.Get("x")).NotTo(BeIdenticalTo(a.Get("y")))
		Expect(a.Size()).To(Equal(2))
	})

	It("should serialise per name", func() {
		a := newLockArena()
		counter := 0

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					mu := a.Get("bucket")
					mu.Lock()
					counter++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		Expect(counter).To(Equal(1600))
	})
})

package server

import "sync"

// RunningJob is a background service that can be asked to stop and waited on.
type RunningJob struct {
	stop   chan struct{}
	closed chan struct{}
	once   *sync.Once
}

// RequestStop is safe to call more than once.
func (job RunningJob) RequestStop() {
	job.once.Do(func() { close(job.stop) })
}

func (job RunningJob) AwaitStop() {
	<-job.closed
}

// SpawnJob runs start in the background and shutdown once a stop is requested.
func SpawnJob(start func(), shutdown func()) RunningJob {
	stop := make(chan struct{})
	closed := make(chan struct{})
	go func() {
		<-stop
		shutdown()
		close(closed)
	}()
	go start()
	return RunningJob{stop: stop, closed: closed, once: &sync.Once{}}
}

// CombineJobs stops every job together, in order, and waits for all of them.
func CombineJobs(jobs ...RunningJob) RunningJob {
	start := func() {}
	shutdown := func() {
		for _, job := range jobs {
			job.RequestStop()
		}
		for _, job := range jobs {
			job.AwaitStop()
		}
	}
	return SpawnJob(start, shutdown)
}

package simpay

import (
	"context"

	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

type Worker struct {
	ID         int
	WorkerPool chan chan WorkRequest
	JobChannel chan WorkRequest
	quit       chan bool
	ledger     *StripeLedger
}

type WorkRequest struct {
	Event *stripe.Event
	Ctx   context.Context
}

func NewWorker(id int, workerPool chan chan WorkRequest, ledger *StripeLedger) Worker {
	return Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan WorkRequest),
		quit:       make(chan bool),
		ledger:     ledger,
	}
}

func (w Worker) Start() {
	go func() {
		for {
			w.WorkerPool <- w.JobChannel

			select {
			case job := <-w.JobChannel:
				w.ledger.logger.Info("Processing event",
					zap.String("event_type", string(job.Event.Type)),
					zap.String("event_id", job.Event.ID))

				err := w.ledger.ProcessEvent(job.Ctx, job.Event)

				if err != nil {
					w.ledger.logger.Error("Failed to process event",
						zap.Error(err),
						zap.String("event_type", string(job.Event.Type)),
						zap.String("event_id", job.Event.ID))
				} else {
					w.ledger.logger.Info("Event processed",
						zap.String("event_type", string(job.Event.Type)),
						zap.String("event_id", job.Event.ID))
				}

			case <-w.quit:
				return
			}
		}
	}()
}

func (w Worker) Stop() {
	close(w.quit)
}

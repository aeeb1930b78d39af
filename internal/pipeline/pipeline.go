package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PhucNguyen204/sigma-detect/internal/endpoints"
	"github.com/PhucNguyen204/sigma-detect/internal/logger"
	"github.com/PhucNguyen204/sigma-detect/internal/store"
	"github.com/PhucNguyen204/sigma-detect/pkg/engine"
)

// Source yields raw event payloads. A nil payload with a nil error means
// nothing was available before the source's own timeout.
type Source interface {
	Pop(ctx context.Context) ([]byte, error)
	Close() error
}

// Sink persists detections.
type Sink interface {
	WriteDetections(ctx context.Context, ds []store.Detection) error
}

type Options struct {
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
	// Endpoints, if set, is updated with every decoded event.
	Endpoints *endpoints.Manager
}

// Stats are running totals since the pipeline started.
type Stats struct {
	Payloads    uint64 `json:"payloads"`
	Events      uint64 `json:"events"`
	ParseErrors uint64 `json:"parse_errors"`
	EvalErrors  uint64 `json:"eval_errors"`
	Detections  uint64 `json:"detections"`
	Written     uint64 `json:"written"`
	Dropped     uint64 `json:"dropped"`
}

// Pipeline reads payloads from a source, evaluates them on a worker pool
// and writes detections in batches.
type Pipeline struct {
	source Source
	engine *engine.Engine
	sink   Sink
	opts   Options

	payloads, events, parseErrors, evalErrors atomic.Uint64
	detections, written, dropped             atomic.Uint64
}

// New builds a pipeline. sink may be nil, in which case detections are
// only logged.
func New(source Source, eng *engine.Engine, sink Sink, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	return &Pipeline{source: source, engine: eng, sink: sink, opts: opts}
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Payloads:    p.payloads.Load(),
		Events:      p.events.Load(),
		ParseErrors: p.parseErrors.Load(),
		EvalErrors:  p.evalErrors.Load(),
		Detections:  p.detections.Load(),
		Written:     p.written.Load(),
		Dropped:     p.dropped.Load(),
	}
}

// Run blocks until ctx is cancelled, then drains in-flight work and
// returns ctx.Err().
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Infof("Pipeline started: workers=%d batch=%d flush=%s rules=%d",
		p.opts.Workers, p.opts.BatchSize, p.opts.FlushInterval, p.engine.Len())

	msgCh := make(chan []byte, p.opts.Workers*4)
	workCh := make(chan []store.Detection, p.opts.Workers*4)

	go func() {
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	var workers sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			p.workerLoop(msgCh, workCh)
		}()
	}
	go func() {
		workers.Wait()
		close(workCh)
	}()

	p.writeLoop(ctx, workCh)

	st := p.Stats()
	logger.Infof("Pipeline stopped: events=%d detections=%d written=%d dropped=%d parse_errors=%d eval_errors=%d",
		st.Events, st.Detections, st.Written, st.Dropped, st.ParseErrors, st.EvalErrors)
	return ctx.Err()
}

// Close releases the source.
func (p *Pipeline) Close() error {
	return p.source.Close()
}

func (p *Pipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := p.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to read event: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if payload == nil {
			continue
		}
		p.payloads.Add(1)
		// workers drain out until it is closed, so a popped payload is never lost
		out <- payload
	}
}

func (p *Pipeline) workerLoop(in <-chan []byte, out chan<- []store.Detection) {
	for payload := range in {
		events, err := decodePayload(payload)
		if err != nil {
			p.parseErrors.Add(1)
			logger.Warnf("Failed to parse event: %v", err)
			continue
		}
		for _, ev := range events {
			p.events.Add(1)
			ds, err := Detect(p.engine, ev, p.opts.Endpoints)
			if err != nil {
				p.evalErrors.Add(1)
				logger.Errorf("Evaluate error: %v", err)
				continue
			}
			if len(ds) == 0 {
				continue
			}
			p.detections.Add(uint64(len(ds)))
			for _, d := range ds {
				logger.Infof("ALERT endpoint=%s rule=%s title=%q level=%s", d.EndpointID, d.RuleID, d.Title, d.Level)
			}
			out <- ds
		}
	}
}

// writeLoop batches detections until in is closed. Once ctx is cancelled it
// stops flushing and keeps accumulating what the workers drain; the tail is
// written under a bounded context detached from ctx.
func (p *Pipeline) writeLoop(ctx context.Context, in <-chan []store.Detection) {
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()

	var batch []store.Detection
	// flush keeps the batch when ctx ends before the sink accepts it.
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if p.sink == nil {
			batch = nil
			return
		}
		for {
			err := p.sink.WriteDetections(ctx, batch)
			if err == nil {
				p.written.Add(uint64(len(batch)))
				batch = nil
				return
			}
			logger.Errorf("Failed to write %d detections: %v", len(batch), err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}

	for {
		select {
		case <-ticker.C:
			if ctx.Err() == nil {
				flush(ctx)
			}
		case ds, ok := <-in:
			if !ok {
				fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				flush(fctx)
				cancel()
				if len(batch) > 0 {
					p.dropped.Add(uint64(len(batch)))
					logger.Errorf("Dropped %d detections on shutdown", len(batch))
				}
				return
			}
			batch = append(batch, ds...)
			if len(batch) >= p.opts.BatchSize && ctx.Err() == nil {
				flush(ctx)
			}
		}
	}
}

package restart

import (
	"context"
	"sync"

	"github.com/dd0wney/cluso-flowroute/pkg/logging"
	"github.com/dd0wney/cluso-flowroute/pkg/state"
)

// Writer is an output sink that checkpoints every Nth step.
type Writer struct {
	dir    string
	every  int
	logger logging.Logger

	mu    sync.Mutex
	last  *state.State
	saved int
}

// NewWriter checkpoints into dir every `every` steps (every step when
// every <= 1). The final state is always saved on Close.
func NewWriter(dir string, every int, logger logging.Logger) *Writer {
	if every < 1 {
		every = 1
	}
	return &Writer{dir: dir, every: every, logger: logging.OrDefault(logger)}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "restart" }

// Write implements the output sink contract.
func (w *Writer) Write(_ context.Context, s *state.State) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.last = s
	if s.Step()%w.every != 0 {
		return nil
	}
	return w.save(s)
}

func (w *Writer) save(s *state.State) error {
	path, err := Save(w.dir, s)
	if err != nil {
		return err
	}
	w.saved = s.Step()
	w.logger.Debug("restart written", logging.Step(s.Step()), logging.Path(path))
	return nil
}

// Close saves the last state received if it was not already written.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.last == nil || w.last.Step() == w.saved {
		return nil
	}
	return w.save(w.last)
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
	"github.com/ternarybob/gantry/internal/registry"
	"github.com/ternarybob/gantry/internal/workerclient"
)

// Monitor keeps one websocket open to each enabled worker and folds the
// push-channel events into the task history. A supervisor loop reconnects
// dropped workers on a fixed interval.
type Monitor struct {
	registry  *registry.Registry
	history   *History
	clientID  string
	reconnect time.Duration
	log       arbor.ILogger

	mu        sync.Mutex
	connected map[string]bool
	current   map[string]string // worker id -> prompt id now executing
}

func NewMonitor(reg *registry.Registry, history *History, reconnect time.Duration) *Monitor {
	return &Monitor{
		registry:  reg,
		history:   history,
		clientID:  common.NewClientID(),
		reconnect: reconnect,
		log:       common.GetLogger(),
	}
}

// Run supervises worker connections until the context is cancelled. Each
// pass connects any enabled worker that is not already connected; removed
// or disabled workers drop out when their read loop errors.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	m.connected = make(map[string]bool)
	m.current = make(map[string]string)
	m.mu.Unlock()

	m.log.Info().Str("reconnect", m.reconnect.String()).Msg("Progress monitor started")

	ticker := time.NewTicker(m.reconnect)
	defer ticker.Stop()

	m.connectMissing(ctx)
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("Progress monitor stopped")
			return
		case <-ticker.C:
			m.connectMissing(ctx)
		}
	}
}

func (m *Monitor) connectMissing(ctx context.Context) {
	for _, worker := range m.registry.ListEnabled() {
		m.mu.Lock()
		already := m.connected[worker.WorkerID]
		if !already {
			m.connected[worker.WorkerID] = true
		}
		m.mu.Unlock()
		if already {
			continue
		}

		worker := worker
		common.SafeGoWithContext(ctx, m.log, "progress-monitor-"+worker.WorkerID, func() {
			defer func() {
				m.mu.Lock()
				delete(m.connected, worker.WorkerID)
				m.mu.Unlock()
			}()
			m.watch(ctx, worker)
		})
	}
}

// watch opens the push channel to one worker and consumes events until the
// connection drops or the context ends.
func (m *Monitor) watch(ctx context.Context, worker *models.WorkerInfo) {
	creds := m.registry.CredentialsFor(ctx, worker)
	conn, err := workerclient.DialProgress(ctx, worker, creds, m.clientID)
	if err != nil {
		m.log.Debug().Err(err).Str("worker_id", worker.WorkerID).Msg("Push channel connect failed")
		return
	}
	defer conn.Close()
	m.log.Info().Str("worker_id", worker.WorkerID).Msg("Push channel connected")

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	common.SafeGo(m.log, "progress-monitor-closer", func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				m.log.Debug().Err(err).Str("worker_id", worker.WorkerID).Msg("Push channel closed")
			}
			return
		}
		// Workers send preview frames as binary; only text frames carry
		// lifecycle events.
		if messageType != websocket.TextMessage {
			continue
		}
		m.handleEvent(ctx, worker.WorkerID, data)
	}
}

// CurrentTask returns the prompt id a worker is executing, if known.
func (m *Monitor) CurrentTask(workerID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	promptID, ok := m.current[workerID]
	return promptID, ok
}

func (m *Monitor) setCurrent(workerID, promptID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if promptID == "" {
		delete(m.current, workerID)
	} else {
		m.current[workerID] = promptID
	}
}

func (m *Monitor) handleEvent(ctx context.Context, workerID string, raw []byte) {
	var event models.WorkerEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		m.log.Debug().Err(err).Str("worker_id", workerID).Msg("Unparseable push message")
		return
	}

	switch event.Type {
	case models.EventExecutionStart:
		var data models.ExecutionStartData
		if json.Unmarshal(event.Data, &data) != nil || data.PromptID == "" {
			return
		}
		m.setCurrent(workerID, data.PromptID)
		if task, err := m.resolveTask(ctx, data.PromptID, workerID); err == nil {
			m.apply(task.TaskID, func() error {
				return m.history.UpdateProgress(ctx, task.TaskID, 0)
			})
		}

	case models.EventExecuting:
		var data models.ExecutingData
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		// executing events usually omit the prompt id; the worker's
		// tracked current task fills it in.
		promptID := m.eventPromptID(workerID, data.PromptID)
		if promptID == "" {
			return
		}
		if data.Node == nil {
			// Null node marks the end of execution. The record stays
			// running until a history poll observes the output and the
			// reconciler promotes it to done.
			m.setCurrent(workerID, "")
			return
		}
		m.setCurrent(workerID, promptID)
		if task, err := m.resolveTask(ctx, promptID, workerID); err == nil {
			m.apply(task.TaskID, func() error {
				return m.history.UpdateProgress(ctx, task.TaskID, task.Progress)
			})
		}

	case models.EventProgress:
		var data models.ProgressData
		if json.Unmarshal(event.Data, &data) != nil || data.Max <= 0 {
			return
		}
		promptID := m.eventPromptID(workerID, data.PromptID)
		if promptID == "" {
			return
		}
		percent := data.Value * 100 / data.Max
		if task, err := m.resolveTask(ctx, promptID, workerID); err == nil {
			m.apply(task.TaskID, func() error {
				return m.history.UpdateProgress(ctx, task.TaskID, percent)
			})
		}

	case models.EventExecuted, models.EventExecutionCached:
		var data models.ExecutionStartData
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		promptID := m.eventPromptID(workerID, data.PromptID)
		if promptID == "" {
			return
		}
		if task, err := m.resolveTask(ctx, promptID, workerID); err == nil {
			m.apply(task.TaskID, func() error {
				return m.history.UpdateProgress(ctx, task.TaskID, task.Progress)
			})
		}

	case models.EventExecutionError:
		var data models.ExecutionErrorData
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		promptID := m.eventPromptID(workerID, data.PromptID)
		if promptID == "" {
			return
		}
		m.setCurrent(workerID, "")
		message := data.ExceptionMessage
		if message == "" {
			message = "execution error"
		}
		if data.NodeType != "" {
			message = fmt.Sprintf("%s (node %s)", message, data.NodeType)
		}
		if task, err := m.resolveTask(ctx, promptID, workerID); err == nil {
			m.apply(task.TaskID, func() error {
				return m.history.MarkFailed(ctx, task.TaskID, message)
			})
		}

	case models.EventStatus:
		var data models.StatusData
		if json.Unmarshal(event.Data, &data) != nil {
			return
		}
		if worker, err := m.registry.Get(workerID); err == nil {
			m.registry.UpdateLoad(workerID, worker.QueueRunning, data.Status.ExecInfo.QueueRemaining, true)
		}
	}
}

// eventPromptID picks the prompt id an event refers to: the one carried in
// the payload when present, otherwise the worker's tracked current task.
func (m *Monitor) eventPromptID(workerID, payloadPromptID string) string {
	if payloadPromptID != "" {
		return payloadPromptID
	}
	current, _ := m.CurrentTask(workerID)
	return current
}

// resolveTask finds the history record tracking a prompt id, creating a
// direct-path record when the prompt never passed through the gateway
// queue.
func (m *Monitor) resolveTask(ctx context.Context, promptID, workerID string) (*models.TaskRecord, error) {
	task, err := m.history.GetByPromptID(ctx, promptID)
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}
	return m.history.UpsertByPromptID(ctx, promptID, workerID, 0)
}

func (m *Monitor) apply(taskID string, fn func() error) {
	if err := fn(); err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		m.log.Warn().Err(err).Str("task_id", taskID).Msg("Failed to apply push event")
	}
}

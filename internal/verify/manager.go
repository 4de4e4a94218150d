package verify

import (
	"sync"
	"time"

	"github.com/beiliao-mobile/BLIAP/internal/authority"
	"github.com/beiliao-mobile/BLIAP/internal/database"
	"github.com/beiliao-mobile/BLIAP/pkg/logging"
)

// Manager owns one verify queue per logged-in user. Queues are created
// explicitly at session start and torn down at logout; cross-user queues
// share nothing and run concurrently.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*VerifyQueue

	store    database.TransactionStore
	client   authority.Client
	notifier Notifier

	retryStep    time.Duration
	retryMaxStep time.Duration
}

// NewManager creates a queue manager
func NewManager(store database.TransactionStore, client authority.Client, notifier Notifier, retryStep, retryMaxStep time.Duration) *Manager {
	return &Manager{
		queues:       make(map[string]*VerifyQueue),
		store:        store,
		client:       client,
		notifier:     notifier,
		retryStep:    retryStep,
		retryMaxStep: retryMaxStep,
	}
}

func queueKey(projectID, userID string) string {
	return projectID + ":" + userID
}

// Start creates (or returns) the user's queue, rehydrates the persisted
// pending records and resumes any transaction interrupted by a previous
// process exit.
func (m *Manager) Start(projectID, userID string) (*VerifyQueue, error) {
	m.mu.Lock()
	key := queueKey(projectID, userID)
	queue, ok := m.queues[key]
	if !ok {
		queue = NewVerifyQueue(projectID, userID, m.store, m.client, m.notifier, m.retryStep, m.retryMaxStep)
		m.queues[key] = queue
	}
	m.mu.Unlock()

	if err := queue.Rehydrate(); err != nil {
		return nil, err
	}

	logging.Infof("verify queue started - project: %s, user: %s, pending: %d",
		projectID, userID, len(queue.PendingSnapshot()))
	return queue, nil
}

// Get returns the user's queue if its session is active
func (m *Manager) Get(projectID, userID string) (*VerifyQueue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue, ok := m.queues[queueKey(projectID, userID)]
	return queue, ok
}

// Stop cancels the user's queue and removes it. Persisted records remain
// for the next session.
func (m *Manager) Stop(projectID, userID string) {
	m.mu.Lock()
	key := queueKey(projectID, userID)
	queue, ok := m.queues[key]
	if ok {
		delete(m.queues, key)
	}
	m.mu.Unlock()

	if ok {
		queue.CancelAll()
		logging.Infof("verify queue stopped - project: %s, user: %s", projectID, userID)
	}
}

// StopAll cancels every queue. Used on service shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	queues := make([]*VerifyQueue, 0, len(m.queues))
	for _, queue := range m.queues {
		queues = append(queues, queue)
	}
	m.queues = make(map[string]*VerifyQueue)
	m.mu.Unlock()

	for _, queue := range queues {
		queue.CancelAll()
	}
}

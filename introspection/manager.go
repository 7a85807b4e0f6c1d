package introspection

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/c360/plotstream/errors"
	"github.com/c360/plotstream/natsclient"
	"github.com/c360/plotstream/types"
)

// Provider produces the current value of a registered item. Returning nil
// omits the item from the batch.
type Provider func() *types.ParamValue

type filter struct {
	id    string
	topic string
	items map[string]struct{}
}

// Manager is the serving side of the introspection protocol. It owns the
// live set of named variables, answers discovery and filter RPCs, and on
// every Update publishes to each filter's topic a batch containing only that
// filter's items.
type Manager struct {
	id     string
	nc     *natsclient.Client
	logger *slog.Logger

	mu      sync.RWMutex
	items   map[string]Provider
	filters map[string]*filter

	subs []*nats.Subscription
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger used by the manager.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a manager with the given id on an established NATS
// connection.
func NewManager(id string, nc *natsclient.Client, opts ...ManagerOption) *Manager {
	m := &Manager{
		id:      id,
		nc:      nc,
		logger:  slog.Default(),
		items:   make(map[string]Provider),
		filters: make(map[string]*filter),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the manager's identity.
func (m *Manager) ID() string {
	return m.id
}

// Register adds or replaces a named item.
func (m *Manager) Register(name string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[name] = provider
}

// Unregister removes a named item. Filters referencing it simply stop
// receiving it.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, name)
}

// Start subscribes the manager's RPC subjects. The manager answers
// discovery pings as soon as Start returns.
func (m *Manager) Start() error {
	handlers := []struct {
		subject string
		fn      func(*nats.Msg)
	}{
		{PingSubject, m.handlePing},
		{itemsSubject(m.id), m.handleItems},
		{registeredSubject(m.id), m.handleRegistered},
		{newFilterSubject(m.id), m.handleNewFilter},
		{updateFilterSubject(m.id), m.handleUpdateFilter},
		{removeFilterSubject(m.id), m.handleRemoveFilter},
	}

	for _, h := range handlers {
		sub, err := m.nc.SubscribeMsg(h.subject, h.fn)
		if err != nil {
			m.stopLocked()
			return errors.Wrap(err, "Manager", "Start", "subscribe "+h.subject)
		}
		m.subs = append(m.subs, sub)
	}

	m.logger.Info("introspection manager started", "manager_id", m.id)
	return nil
}

// Stop unsubscribes all RPC subjects.
func (m *Manager) Stop() {
	m.stopLocked()
	m.logger.Info("introspection manager stopped", "manager_id", m.id)
}

func (m *Manager) stopLocked() {
	for _, sub := range m.subs {
		_ = sub.Unsubscribe()
	}
	m.subs = nil
}

// Update publishes the current value of every filtered item to each
// filter's delivery topic.
func (m *Manager) Update() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, f := range m.filters {
		batch := types.ParamBatch{}
		for name := range f.items {
			provider, ok := m.items[name]
			if !ok || provider == nil {
				continue
			}
			value := provider()
			if value == nil {
				continue
			}
			batch.Params = append(batch.Params, types.Param{Name: name, Value: value})
		}

		data, err := json.Marshal(batch)
		if err != nil {
			return errors.WrapInvalid(err, "Manager", "Update", "marshal batch")
		}
		if err := m.nc.Publish(f.topic, data); err != nil {
			return errors.WrapTransient(err, "Manager", "Update", "publish batch to "+f.topic)
		}
	}
	return nil
}

func (m *Manager) handlePing(msg *nats.Msg) {
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(pingResponse{ManagerID: m.id})
	if err := msg.Respond(data); err != nil {
		m.logger.Warn("ping response failed", "error", err)
	}
}

func (m *Manager) handleItems(msg *nats.Msg) {
	m.mu.RLock()
	items := make([]string, 0, len(m.items))
	for name := range m.items {
		items = append(items, name)
	}
	m.mu.RUnlock()

	data, _ := json.Marshal(itemsResponse{Items: items})
	m.respond(msg, data)
}

func (m *Manager) handleRegistered(msg *nats.Msg) {
	var req registeredRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		m.respondFilterError(msg, "bad request")
		return
	}

	m.mu.RLock()
	_, ok := m.items[req.Item]
	m.mu.RUnlock()

	data, _ := json.Marshal(registeredResponse{Registered: ok})
	m.respond(msg, data)
}

func (m *Manager) handleNewFilter(msg *nats.Msg) {
	var req filterRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		m.respondFilterError(msg, "bad request")
		return
	}

	f := &filter{
		id:    uuid.NewString(),
		items: make(map[string]struct{}, len(req.Items)),
	}
	f.topic = DeliveryTopic(f.id)
	for _, item := range req.Items {
		f.items[item] = struct{}{}
	}

	m.mu.Lock()
	m.filters[f.id] = f
	m.mu.Unlock()

	m.logger.Debug("filter created", "filter_id", f.id, "items", len(f.items))

	data, _ := json.Marshal(filterResponse{OK: true, FilterID: f.id, Topic: f.topic})
	m.respond(msg, data)
}

func (m *Manager) handleUpdateFilter(msg *nats.Msg) {
	var req filterRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		m.respondFilterError(msg, "bad request")
		return
	}

	m.mu.Lock()
	f, ok := m.filters[req.FilterID]
	if ok {
		f.items = make(map[string]struct{}, len(req.Items))
		for _, item := range req.Items {
			f.items[item] = struct{}{}
		}
	}
	m.mu.Unlock()

	if !ok {
		m.respondFilterError(msg, "unknown filter "+req.FilterID)
		return
	}

	data, _ := json.Marshal(filterResponse{OK: true, FilterID: req.FilterID, Topic: DeliveryTopic(req.FilterID)})
	m.respond(msg, data)
}

func (m *Manager) handleRemoveFilter(msg *nats.Msg) {
	var req filterRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		m.respondFilterError(msg, "bad request")
		return
	}

	m.mu.Lock()
	_, ok := m.filters[req.FilterID]
	delete(m.filters, req.FilterID)
	m.mu.Unlock()

	if !ok {
		m.respondFilterError(msg, "unknown filter "+req.FilterID)
		return
	}

	data, _ := json.Marshal(filterResponse{OK: true, FilterID: req.FilterID})
	m.respond(msg, data)
}

func (m *Manager) respond(msg *nats.Msg, data []byte) {
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(data); err != nil {
		m.logger.Warn("RPC response failed", "subject", msg.Subject, "error", err)
	}
}

func (m *Manager) respondFilterError(msg *nats.Msg, reason string) {
	data, _ := json.Marshal(filterResponse{OK: false, Error: reason})
	m.respond(msg, data)
}

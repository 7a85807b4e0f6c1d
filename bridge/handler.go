// Package bridge routes introspection updates into plot curves. The Handler
// subscribes to a filtered introspection feed, matches delivered parameters
// against the variables curves were registered for, extracts scalar
// components from composite values and fans (time, value) samples out to
// every interested curve.
package bridge

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c360/plotstream/errors"
	"github.com/c360/plotstream/metric"
	"github.com/c360/plotstream/pkg/uri"
	"github.com/c360/plotstream/plot"
	"github.com/c360/plotstream/types"
)

// DefaultSimTimeVar is the introspection item used as the x axis for every
// sample.
const DefaultSimTimeVar = "data://world/default?p=sim_time"

// DefaultDiscoveryTimeout bounds how long setup waits for a manager to
// announce itself.
const DefaultDiscoveryTimeout = 2 * time.Second

// State is the lifecycle state of a Handler. After setup it is terminal:
// either active or inert. An inert handler never delivers updates and is
// never retried.
type State int32

// Handler states
const (
	StateStarting State = iota
	StateActive
	StateInert
	StateStopped
)

// String returns a string representation of the handler state
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateInert:
		return "inert"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Subscription is an active delivery-topic subscription.
type Subscription interface {
	Unsubscribe() error
}

// Client is the introspection surface the handler consumes. Satisfied by
// Adapt(*introspection.Client); tests provide fakes.
type Client interface {
	WaitForManagers(ctx context.Context, timeout time.Duration) ([]string, error)
	IsRegistered(managerID, item string) (bool, error)
	Items(managerID string) ([]string, error)
	NewFilter(managerID string, items []string) (filterID, topic string, err error)
	UpdateFilter(managerID, filterID string, items []string) error
	Subscribe(topic string, handler func(*types.ParamBatch)) (Subscription, error)
}

// HandlerDeps provides dependencies for creating a Handler
type HandlerDeps struct {
	Client           Client
	Logger           *slog.Logger
	MetricsRegistry  *metric.MetricsRegistry
	SimTimeVar       string        // defaults to DefaultSimTimeVar
	DiscoveryTimeout time.Duration // defaults to DefaultDiscoveryTimeout
}

// Handler owns the curve registry and the introspection filter derived from
// it. One mutex serializes every operation, including batch delivery; the
// design trades throughput for the ordering guarantees the registry and
// filter invariants depend on.
type Handler struct {
	client  Client
	logger  *slog.Logger
	metrics *Metrics

	simTimeVar       string
	discoveryTimeout time.Duration

	mu sync.Mutex
	// curves maps a requested variable name to the curves interested in
	// it. Sets are never left empty: the last removal deletes the entry
	// and releases the filter item.
	curves      map[string][]plot.Ref
	filter      map[string]struct{}
	filterCount map[string]int
	managerID   string
	filterID    string
	filterTopic string
	sub         Subscription
	state       State
	setupErr    error

	setupWG sync.WaitGroup
}

// NewHandler creates a curve handler. Call Start to begin discovery.
func NewHandler(deps HandlerDeps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		client:           deps.Client,
		logger:           logger,
		metrics:          newMetrics(deps.MetricsRegistry),
		simTimeVar:       deps.SimTimeVar,
		discoveryTimeout: deps.DiscoveryTimeout,
		curves:           make(map[string][]plot.Ref),
		filter:           make(map[string]struct{}),
		filterCount:      make(map[string]int),
		state:            StateStarting,
	}
	if h.simTimeVar == "" {
		h.simTimeVar = DefaultSimTimeVar
	}
	if h.discoveryTimeout <= 0 {
		h.discoveryTimeout = DefaultDiscoveryTimeout
	}
	h.metrics.setState(StateStarting)
	return h
}

// Start launches discovery on a dedicated goroutine. Discovery blocks on
// the network, so it holds the handler mutex while it runs: AddCurve and
// RemoveCurve callers queue behind it until setup resolves to active or
// inert.
func (h *Handler) Start() {
	h.setupWG.Add(1)
	go h.setup()
}

// Stop waits for the setup goroutine to finish, then unsubscribes from the
// delivery topic. After Stop returns no update callback will run.
func (h *Handler) Stop() {
	h.setupWG.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sub != nil {
		if err := h.sub.Unsubscribe(); err != nil {
			h.logger.Warn("unsubscribe failed", "topic", h.filterTopic, "error", err)
		}
		h.sub = nil
	}
	h.state = StateStopped
	h.metrics.setState(StateStopped)
}

// State returns the handler's current lifecycle state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ManagerID returns the selected introspection manager, empty until setup
// succeeds.
func (h *Handler) ManagerID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.managerID
}

// SetupError returns the error that made the handler inert, nil otherwise.
func (h *Handler) SetupError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setupErr
}

// setup performs one-shot discovery. Any failure leaves the handler inert:
// logged, terminal, never retried.
func (h *Handler) setup() {
	defer h.setupWG.Done()

	h.mu.Lock()
	defer h.mu.Unlock()

	fail := func(err error, msg string, args ...any) {
		h.logger.Error(msg, append(args, "error", err)...)
		h.setupErr = err
		h.state = StateInert
		h.metrics.setState(StateInert)
		h.metrics.recordSetupError(err)
	}

	managerIDs, err := h.client.WaitForManagers(context.Background(), h.discoveryTimeout)
	if err != nil || len(managerIDs) == 0 {
		if err == nil {
			err = errors.ErrNoManagers
		}
		fail(err, "no introspection managers detected")
		return
	}

	h.managerID = managerIDs[0]
	if h.managerID == "" {
		fail(errors.ErrEmptyManagerID, "introspection manager id is empty")
		return
	}

	registered, err := h.client.IsRegistered(h.managerID, h.simTimeVar)
	if err != nil || !registered {
		if err == nil {
			err = errors.ErrItemNotRegistered
		}
		fail(err, "sim time item is not registered on the manager",
			"manager_id", h.managerID, "item", h.simTimeVar)
		return
	}

	items, err := h.client.Items(h.managerID)
	if err == nil {
		h.logger.Debug("introspection items enumerated",
			"manager_id", h.managerID, "count", len(items))
		for _, item := range items {
			h.logger.Debug("introspection item", "uri", item)
		}
	}

	h.filter = map[string]struct{}{h.simTimeVar: {}}
	h.filterCount = map[string]int{h.simTimeVar: 1}

	h.filterID, h.filterTopic, err = h.client.NewFilter(h.managerID, h.filterItems())
	if err != nil {
		fail(errors.Wrap(errors.ErrFilterCreate, "Handler", "setup", err.Error()),
			"unable to create introspection filter", "manager_id", h.managerID)
		return
	}

	h.sub, err = h.client.Subscribe(h.filterTopic, h.onIntrospection)
	if err != nil {
		fail(err, "error subscribing to introspection manager", "topic", h.filterTopic)
		return
	}

	h.state = StateActive
	h.metrics.setState(StateActive)
	h.metrics.setFilterSize(len(h.filter))
	h.logger.Info("introspection curve handler active",
		"manager_id", h.managerID, "filter_id", h.filterID, "topic", h.filterTopic)
}

// AddCurve registers a curve's interest in the named variable. Adding the
// same curve twice under one name is a no-op; a dead reference is ignored.
func (h *Handler) AddCurve(name string, ref plot.Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ref.Live() == nil {
		return
	}

	set, ok := h.curves[name]
	if !ok {
		h.curves[name] = []plot.Ref{ref}
		h.addItemToFilter(name)
		return
	}

	for _, existing := range set {
		if existing.Same(ref) {
			return
		}
	}
	h.curves[name] = append(set, ref)
}

// RemoveCurve removes the curve from the first variable set containing it.
// A curve is registered under at most one name at a time, so scanning stops
// at the first hit. Emptied sets release their filter item and are deleted.
func (h *Handler) RemoveCurve(ref plot.Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ref.Live() == nil {
		return
	}

	for name, set := range h.curves {
		for i, existing := range set {
			if !existing.Same(ref) {
				continue
			}

			set = append(set[:i], set[i+1:]...)
			if len(set) == 0 {
				h.removeItemFromFilter(name)
				delete(h.curves, name)
			} else {
				h.curves[name] = set
			}
			return
		}
	}
}

// CurveCount returns the number of live registry entries.
func (h *Handler) CurveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.curves)
}

func (h *Handler) filterItems() []string {
	items := make([]string, 0, len(h.filter))
	for item := range h.filter {
		items = append(items, item)
	}
	sort.Strings(items)
	return items
}

// addItemToFilter resolves the requested name against the manager's
// registered items and takes a reference on the first match: the item whose
// path equals the name's path and whose query the name's query extends. A
// registered item "scheme://path?p=world_pose" serves a request for
// "scheme://path?p=world_pose/position/x". Items arrive sorted, so ties
// resolve to the lexicographically smallest item URI.
func (h *Handler) addItemToFilter(name string) {
	requested, err := uri.Parse(name)
	if err != nil {
		return
	}

	items, err := h.client.Items(h.managerID)
	if err != nil {
		h.logger.Debug("item enumeration failed", "manager_id", h.managerID, "error", err)
		return
	}

	for _, item := range items {
		candidate, err := uri.Parse(item)
		if err != nil {
			continue
		}
		if !requested.Path.Equal(candidate.Path) {
			continue
		}
		if !requested.Query.Extends(candidate.Query) {
			continue
		}

		if _, ok := h.filter[item]; !ok {
			h.filter[item] = struct{}{}
			h.filterCount[item] = 1
			h.pushFilter("addItemToFilter")
		} else {
			h.filterCount[item]++
		}
		return
	}
}

// removeItemFromFilter releases one reference on the item resolved from the
// name, removing it from the filter when the count reaches zero.
func (h *Handler) removeItemFromFilter(name string) {
	requested, err := uri.Parse(name)
	if err != nil {
		return
	}

	items, err := h.client.Items(h.managerID)
	if err != nil {
		h.logger.Debug("item enumeration failed", "manager_id", h.managerID, "error", err)
		return
	}

	for _, item := range items {
		candidate, err := uri.Parse(item)
		if err != nil {
			continue
		}
		if !requested.Path.Equal(candidate.Path) {
			continue
		}
		if !requested.Query.Extends(candidate.Query) {
			continue
		}

		if _, ok := h.filter[item]; !ok {
			return
		}

		h.filterCount[item]--
		if h.filterCount[item] == 0 {
			delete(h.filter, item)
			delete(h.filterCount, item)
			h.pushFilter("removeItemFromFilter")
		}
		return
	}
}

// pushFilter sends the current filter to the manager. Push failures are
// logged and local state is kept: a transient remote failure can leave the
// remote filter stale until the next successful push.
func (h *Handler) pushFilter(op string) {
	err := h.client.UpdateFilter(h.managerID, h.filterID, h.filterItems())
	h.metrics.recordFilterUpdate(err)
	h.metrics.setFilterSize(len(h.filter))
	if err != nil {
		h.logger.Error("error updating introspection filter",
			"op", op, "filter_id", h.filterID, "error", err)
	}
}

// curveUpdate pairs a resolved registry entry with its decoded value.
type curveUpdate struct {
	name  string
	value float64
}

// onIntrospection handles one delivered batch. All parameters are resolved
// and decoded before any curve is touched, so a batch either contributes a
// consistent set of samples or none for the invalid entries.
func (h *Handler) onIntrospection(batch *types.ParamBatch) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.metrics.recordBatch()

	// Registry keys sorted once per batch: prefix resolution ties go to
	// the lexicographically smallest key.
	names := make([]string, 0, len(h.curves))
	for name := range h.curves {
		names = append(names, name)
	}
	sort.Strings(names)

	var updates []curveUpdate
	simTime := 0.0
	hasSimTime := false

	for _, param := range batch.Params {
		if param.Name == "" || param.Value == nil {
			continue
		}

		// The x axis is pinned to sim time; only the first occurrence
		// in the batch is used.
		if !hasSimTime && param.Name == h.simTimeVar {
			if param.Value.Type == types.TypeTime && param.Value.TimeValue != nil {
				simTime = param.Value.TimeValue.Seconds()
				hasSimTime = true
			}
		}

		entry := h.resolveEntry(param.Name, names)
		if entry == "" {
			h.metrics.recordSkipped()
			continue
		}

		value, ok := decodeScalar(param.Value, entryQuery(entry))
		if !ok {
			h.metrics.recordSkipped()
			continue
		}

		updates = append(updates, curveUpdate{name: entry, value: value})
	}

	appended := 0
	for _, update := range updates {
		for _, ref := range h.curves[update.name] {
			curve := ref.Live()
			if curve == nil {
				continue
			}
			curve.AppendPoint(simTime, update.value)
			appended++
		}
	}
	h.metrics.recordSamples(appended)
}

// resolveEntry maps a parameter name to a registry entry: exact match first,
// then the first entry (in sorted order) the parameter name is a prefix of.
// A parameter reporting "scheme://path?p=world_pose" serves the more
// specific entry "scheme://path?p=world_pose/position/x".
func (h *Handler) resolveEntry(paramName string, sortedNames []string) string {
	if _, ok := h.curves[paramName]; ok {
		return paramName
	}
	for _, name := range sortedNames {
		if strings.HasPrefix(name, paramName) {
			return name
		}
	}
	return ""
}

// entryQuery returns the query of a registry key, empty when the key is not
// a URI. Non-URI keys still receive plain numeric values; only composite
// decodes need the query.
func entryQuery(name string) uri.Query {
	u, err := uri.Parse(name)
	if err != nil {
		return ""
	}
	return u.Query
}

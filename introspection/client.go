package introspection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/plotstream/errors"
	"github.com/c360/plotstream/natsclient"
	"github.com/c360/plotstream/types"
)

// Client consumes the introspection protocol: discovery, item enumeration,
// filter maintenance and batch subscription.
type Client struct {
	nc         *natsclient.Client
	logger     *slog.Logger
	rpcTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger used by the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRPCTimeout sets the per-request timeout for manager RPCs.
func WithRPCTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.rpcTimeout = d
	}
}

// NewClient creates an introspection client on an established NATS
// connection.
func NewClient(nc *natsclient.Client, opts ...ClientOption) *Client {
	c := &Client{
		nc:         nc,
		logger:     slog.Default(),
		rpcTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WaitForManagers blocks until at least one introspection manager answers a
// discovery ping or the timeout elapses. After the first answer a short
// settle window collects replies from further managers. The returned ids are
// sorted.
func (c *Client) WaitForManagers(ctx context.Context, timeout time.Duration) ([]string, error) {
	conn := c.nc.Conn()
	if conn == nil {
		return nil, natsclient.ErrNotConnected
	}

	inbox := nats.NewInbox()
	replies := make(chan string, 64)

	sub, err := conn.Subscribe(inbox, func(msg *nats.Msg) {
		var resp pingResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil || resp.ManagerID == "" {
			return
		}
		select {
		case replies <- resp.ManagerID:
		default:
		}
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "WaitForManagers", "subscribe inbox")
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := conn.PublishRequest(PingSubject, inbox, nil); err != nil {
		return nil, errors.WrapTransient(err, "Client", "WaitForManagers", "publish ping")
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	seen := make(map[string]struct{})

	// Block for the first reply, then drain stragglers briefly so that a
	// multi-manager deployment yields a stable sorted set.
	var settle <-chan time.Time
	for {
		select {
		case id := <-replies:
			seen[id] = struct{}{}
			if settle == nil {
				settleTimer := time.NewTimer(100 * time.Millisecond)
				defer settleTimer.Stop()
				settle = settleTimer.C
			}
		case <-settle:
			return sortedKeys(seen), nil
		case <-deadline.C:
			if len(seen) > 0 {
				return sortedKeys(seen), nil
			}
			return nil, errors.ErrNoManagers
		case <-ctx.Done():
			if len(seen) > 0 {
				return sortedKeys(seen), nil
			}
			return nil, errors.WrapTransient(ctx.Err(), "Client", "WaitForManagers", "wait for discovery")
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsRegistered reports whether the named item is registered on the manager.
func (c *Client) IsRegistered(managerID, item string) (bool, error) {
	data, err := json.Marshal(registeredRequest{Item: item})
	if err != nil {
		return false, errors.WrapInvalid(err, "Client", "IsRegistered", "marshal request")
	}

	reply, err := c.nc.Request(registeredSubject(managerID), data, c.rpcTimeout)
	if err != nil {
		return false, errors.Wrap(err, "Client", "IsRegistered", "query manager")
	}

	var resp registeredResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return false, errors.WrapInvalid(err, "Client", "IsRegistered", "decode response")
	}
	return resp.Registered, nil
}

// Items returns all item URIs registered on the manager, sorted
// lexicographically.
func (c *Client) Items(managerID string) ([]string, error) {
	reply, err := c.nc.Request(itemsSubject(managerID), nil, c.rpcTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "Client", "Items", "query manager")
	}

	var resp itemsResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, errors.WrapInvalid(err, "Client", "Items", "decode response")
	}

	sort.Strings(resp.Items)
	return resp.Items, nil
}

// NewFilter creates a filter containing the given items and returns its id
// and delivery topic.
func (c *Client) NewFilter(managerID string, items []string) (filterID, topic string, err error) {
	data, err := json.Marshal(filterRequest{Items: items})
	if err != nil {
		return "", "", errors.WrapInvalid(err, "Client", "NewFilter", "marshal request")
	}

	reply, err := c.nc.Request(newFilterSubject(managerID), data, c.rpcTimeout)
	if err != nil {
		return "", "", errors.Wrap(err, "Client", "NewFilter", "query manager")
	}

	var resp filterResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return "", "", errors.WrapInvalid(err, "Client", "NewFilter", "decode response")
	}
	if !resp.OK {
		return "", "", errors.Wrap(fmt.Errorf("%s", resp.Error), "Client", "NewFilter", "create filter")
	}
	return resp.FilterID, resp.Topic, nil
}

// UpdateFilter replaces the item set of an existing filter.
func (c *Client) UpdateFilter(managerID, filterID string, items []string) error {
	data, err := json.Marshal(filterRequest{FilterID: filterID, Items: items})
	if err != nil {
		return errors.WrapInvalid(err, "Client", "UpdateFilter", "marshal request")
	}

	reply, err := c.nc.Request(updateFilterSubject(managerID), data, c.rpcTimeout)
	if err != nil {
		return errors.Wrap(errors.ErrFilterUpdate, "Client", "UpdateFilter", err.Error())
	}

	var resp filterResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return errors.WrapInvalid(err, "Client", "UpdateFilter", "decode response")
	}
	if !resp.OK {
		return errors.Wrap(errors.ErrFilterUpdate, "Client", "UpdateFilter", resp.Error)
	}
	return nil
}

// RemoveFilter deletes a filter from the manager.
func (c *Client) RemoveFilter(managerID, filterID string) error {
	data, err := json.Marshal(filterRequest{FilterID: filterID})
	if err != nil {
		return errors.WrapInvalid(err, "Client", "RemoveFilter", "marshal request")
	}

	reply, err := c.nc.Request(removeFilterSubject(managerID), data, c.rpcTimeout)
	if err != nil {
		return errors.Wrap(err, "Client", "RemoveFilter", "query manager")
	}

	var resp filterResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return errors.WrapInvalid(err, "Client", "RemoveFilter", "decode response")
	}
	if !resp.OK {
		return errors.Wrap(errors.ErrFilterNotFound, "Client", "RemoveFilter", resp.Error)
	}
	return nil
}

// Subscribe subscribes to a filter's delivery topic. Batches that fail to
// decode are dropped with a log line; the handler runs on the transport's
// delivery goroutine.
func (c *Client) Subscribe(topic string, handler func(*types.ParamBatch)) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(topic, func(data []byte) {
		var batch types.ParamBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			c.logger.Warn("dropping undecodable introspection batch", "topic", topic, "error", err)
			return
		}
		handler(&batch)
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrSubscribeFailed, "Client", "Subscribe", err.Error())
	}
	return sub, nil
}

package bridge

import (
	"context"
	"time"

	"github.com/c360/plotstream/introspection"
	"github.com/c360/plotstream/types"
)

// clientAdapter narrows *introspection.Client to the Client surface the
// handler consumes.
type clientAdapter struct {
	c *introspection.Client
}

// Adapt wraps an introspection client for use as a Handler dependency.
func Adapt(c *introspection.Client) Client {
	return clientAdapter{c: c}
}

func (a clientAdapter) WaitForManagers(ctx context.Context, timeout time.Duration) ([]string, error) {
	return a.c.WaitForManagers(ctx, timeout)
}

func (a clientAdapter) IsRegistered(managerID, item string) (bool, error) {
	return a.c.IsRegistered(managerID, item)
}

func (a clientAdapter) Items(managerID string) ([]string, error) {
	return a.c.Items(managerID)
}

func (a clientAdapter) NewFilter(managerID string, items []string) (string, string, error) {
	return a.c.NewFilter(managerID, items)
}

func (a clientAdapter) UpdateFilter(managerID, filterID string, items []string) error {
	return a.c.UpdateFilter(managerID, filterID, items)
}

func (a clientAdapter) Subscribe(topic string, handler func(*types.ParamBatch)) (Subscription, error) {
	sub, err := a.c.Subscribe(topic, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

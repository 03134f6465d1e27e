// Package visibility shows and hides render entities and keeps the companion
// selector's marks in step with what is actually visible.
package visibility

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// ErrUnknownKey is returned when an operation names an entity that does not exist.
var ErrUnknownKey = errors.New("unknown entity key")

// Entities is the entity store the controller flips flags on.
// *render.Registry satisfies it.
type Entities interface {
	Keys() []string
	IsVisible(key string) (visible, ok bool)
	SetVisible(key string, visible bool) bool
}

// Controller applies visibility transitions. Every entity starts Visible.
// Like the registry it is owned by the engine's event loop.
type Controller struct {
	entities Entities
	sel      *Selector
}

// New creates a controller over entities. Entities that already exist are
// registered with the selector.
func New(entities Entities) (*Controller, error) {
	if entities == nil {
		return nil, fmt.Errorf("entities cannot be nil")
	}
	c := &Controller{entities: entities, sel: NewSelector()}
	for _, k := range entities.Keys() {
		c.Register(k, k)
	}
	return c, nil
}

// Register adds a selector option for a newly created entity.
func (c *Controller) Register(key, label string) {
	visible, _ := c.entities.IsVisible(key)
	c.sel.add(key, label, visible)
}

// Toggle flips one entity and returns its new state.
func (c *Controller) Toggle(key string) (bool, error) {
	visible, ok := c.entities.IsVisible(key)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	c.set(key, !visible)
	return !visible, nil
}

// Show sets one entity visible or hidden.
func (c *Controller) Show(key string, visible bool) error {
	if _, ok := c.entities.IsVisible(key); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	c.set(key, visible)
	return nil
}

// ToggleAll shows everything if nothing is visible, otherwise hides
// everything. It returns the state applied.
func (c *Controller) ToggleAll() bool {
	return c.toggleGroup(c.entities.Keys())
}

// ToggleAllByPrefix applies the ToggleAll rule to the keys starting with
// prefix only.
func (c *Controller) ToggleAllByPrefix(prefix string) bool {
	keys := lo.Filter(c.entities.Keys(), func(k string, _ int) bool {
		return strings.HasPrefix(k, prefix)
	})
	return c.toggleGroup(keys)
}

// toggleGroup never leaves a group partially toggled: with no member
// visible all become visible, otherwise all become hidden.
func (c *Controller) toggleGroup(keys []string) bool {
	anyVisible := lo.SomeBy(keys, func(k string) bool {
		v, _ := c.entities.IsVisible(k)
		return v
	})
	target := !anyVisible
	for _, k := range keys {
		c.set(k, target)
	}
	return target
}

// ToggleSelected flips exactly the entities selected in the selector,
// each on its own, and returns the keys it touched.
func (c *Controller) ToggleSelected() []string {
	keys := c.sel.Selected()
	touched := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, err := c.Toggle(k); err == nil {
			touched = append(touched, k)
		}
	}
	return touched
}

// Select replaces the user's selection. Unknown keys are rejected and the
// selection is left unchanged.
func (c *Controller) Select(keys []string) error {
	missing := lo.Reject(keys, func(k string, _ int) bool {
		return c.sel.has(k)
	})
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(missing, ", "))
	}
	c.sel.selectOnly(keys)
	return nil
}

// Sync re-derives every mark from the entity flags.
func (c *Controller) Sync() {
	for _, o := range c.sel.Options() {
		v, _ := c.entities.IsVisible(o.Key)
		c.sel.mark(o.Key, v)
	}
}

// Options returns the selector options in registration order.
func (c *Controller) Options() []Option {
	return c.sel.Options()
}

// Visible returns the keys that are currently visible.
func (c *Controller) Visible() []string {
	return lo.Filter(c.entities.Keys(), func(k string, _ int) bool {
		v, _ := c.entities.IsVisible(k)
		return v
	})
}

func (c *Controller) set(key string, visible bool) {
	c.entities.SetVisible(key, visible)
	c.sel.mark(key, visible)
}

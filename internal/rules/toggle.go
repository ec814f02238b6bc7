package rules

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-fluent/internal/items"
	"github.com/nerrad567/gray-logic-fluent/internal/triggers"
)

// RegisterToggleable registers a rule that can be switched on and off
// through a generated Switch item.
//
// The switch item vRuleItemFor<SafeName> is created or replaced in the
// toggle group (or in a per-group child of it when cfg.Group is set), the
// rule is registered, and a proxy rule is registered on updates of the
// switch item: OFF disables the rule, any other state enables it.
//
// A switch item without a state is restored from history, or commanded ON
// when there is none. A switch item that already holds OFF leaves the new
// rule disabled.
func (e *Engine) RegisterToggleable(ctx context.Context, cfg Config) (*Rule, error) {
	if cfg.Name == "" {
		return nil, ErrNameRequired
	}
	if e.store == nil {
		return nil, fmt.Errorf("%w: toggleable rules need an item store", ErrInvalidRule)
	}

	groups, err := e.ruleGroups(ctx, cfg.Group)
	if err != nil {
		return nil, err
	}

	switchName := SwitchItemName(cfg.Name)
	if _, err := e.store.ReplaceItem(ctx, &items.Item{
		Name:   switchName,
		Type:   items.TypeSwitch,
		Label:  cfg.Description,
		Groups: groups,
		Tags:   []string{items.GeneratedRuleItemTag},
	}); err != nil {
		return nil, fmt.Errorf("creating switch item for rule %s: %w", cfg.Name, err)
	}

	rule, err := e.Register(ctx, cfg)
	if err != nil {
		return nil, err
	}

	proxy, err := e.Register(ctx, Config{
		Name:        proxyRulePrefix + rule.Name,
		Description: "Generated rule to toggle real rule for " + rule.Name,
		Triggers:    []triggers.Trigger{triggers.ItemStateUpdate(switchName, "")},
		Execute:     e.toggleExecute(rule.UID, rule.Name),
	})
	if err != nil {
		_ = e.Remove(rule.UID) //nolint:errcheck // registered just above
		return nil, fmt.Errorf("registering proxy rule for %s: %w", rule.Name, err)
	}

	e.mu.Lock()
	if ent, ok := e.entries[rule.UID]; ok {
		ent.rule.Toggleable = true
		ent.rule.SwitchItem = switchName
		ent.proxy = proxy.UID
	}
	e.mu.Unlock()

	if err := e.initialiseSwitch(ctx, rule.UID, switchName); err != nil {
		return nil, err
	}
	return e.Get(rule.UID)
}

func (e *Engine) toggleExecute(uid, name string) ExecuteFunc {
	return func(_ context.Context, fc FiringContext) error {
		enabled := fc.State != items.StateOff
		e.logger.Debug("rule toggle item state received", "rule", name, "state", fc.State)
		if err := e.SetEnabled(uid, enabled); err != nil {
			return fmt.Errorf("toggling rule %s: %w", name, err)
		}
		if enabled {
			e.logger.Info("enabled rule", "name", name, "uid", uid)
		} else {
			e.logger.Info("disabled rule", "name", name, "uid", uid)
		}
		return nil
	}
}

// ruleGroups returns the groups of a rule switch item, creating the
// per-group item when group is set.
func (e *Engine) ruleGroups(ctx context.Context, group string) ([]string, error) {
	if group == "" {
		return []string{e.toggleGroup}, nil
	}

	groupName := e.toggleGroup + items.SafeItemName(group)
	e.logger.Debug("creating rule group", "group", group, "item", groupName)
	if _, err := e.store.ReplaceItem(ctx, &items.Item{
		Name:   groupName,
		Type:   items.TypeGroup,
		Label:  group,
		Groups: []string{e.toggleGroup},
		Tags:   []string{items.GeneratedRuleItemTag},
	}); err != nil {
		return nil, fmt.Errorf("creating rule group %s: %w", group, err)
	}
	return []string{groupName}, nil
}

// initialiseSwitch brings the rule in line with its switch item.
func (e *Engine) initialiseSwitch(ctx context.Context, uid, switchName string) error {
	item, err := e.store.GetItem(ctx, switchName)
	if err != nil {
		return fmt.Errorf("reading switch item %s: %w", switchName, err)
	}

	if !item.IsUninitialized() {
		return e.SetEnabled(uid, item.State != items.StateOff)
	}

	historic, ok, err := e.store.HistoricState(ctx, switchName, e.now())
	if err != nil {
		e.logger.Warn("historic state lookup failed", "item", switchName, "error", err)
	}
	if err == nil && ok && !items.IsUninitializedState(historic) {
		e.logger.Debug("restoring rule switch from history", "item", switchName, "state", historic)
		if err := e.store.PostUpdate(ctx, switchName, historic); err != nil {
			return fmt.Errorf("restoring switch item %s: %w", switchName, err)
		}
		return e.SetEnabled(uid, historic != items.StateOff)
	}
	return e.store.SendCommand(ctx, switchName, items.StateOn)
}

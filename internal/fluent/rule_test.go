package fluent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-fluent/internal/items"
	"github.com/nerrad567/gray-logic-fluent/internal/rules"
	"github.com/nerrad567/gray-logic-fluent/internal/triggers"
)

// ─── End to End ─────────────────────────────────────────────────────────────

func TestRule_SwitchFollowsSwitch(t *testing.T) {
	f := newFixture(
		item("Switch1", items.TypeSwitch, "ON"),
		item("Switch2", items.TypeSwitch, "OFF"),
	)
	d := f.dsl
	ctx := context.Background()

	rule, err := d.When(d.Item("Switch1").Changed().To("ON"))
	require.NoError(t, err)
	registered, err := rule.Then(ctx, d.Send("ON").ToItem("Switch2"))
	require.NoError(t, err)

	cfg := f.registrar.last()
	assert.Equal(t, "item_Switch1_changed_to_ON_then_send_ON_to_Switch2", cfg.Name)
	assert.Equal(t, cfg.Name, registered.Name)
	assert.Equal(t, "Switch1 → ON ⇒ send ON to Switch2", cfg.Description)
	assert.Equal(t, []bool{false}, f.registrar.toggleable)

	require.Len(t, cfg.Triggers, 1)
	assert.Equal(t, triggers.TypeItemStateChange, cfg.Triggers[0].TypeUID)
	assert.Equal(t, map[string]string{"itemName": "Switch1", "state": "ON"}, cfg.Triggers[0].Configuration)

	require.NoError(t, cfg.Execute(ctx, rules.FiringContext{
		ItemName:  "Switch1",
		EventType: rules.EventChange,
		OldState:  "OFF",
		NewState:  "ON",
	}))
	assert.Equal(t, []string{"cmd Switch2=ON"}, f.items.recorded())
}

func TestRule_IfGatesOnIt(t *testing.T) {
	f := newFixture(item("Lamp", items.TypeSwitch, "OFF"))
	d := f.dsl
	ctx := context.Background()

	rule, err := d.When(d.Item("Remote").ReceivedCommand())
	require.NoError(t, err)
	_, err = rule.
		IfFunc(func(_ context.Context, fc rules.FiringContext) (bool, error) {
			return fc.It == "ON", nil
		}).
		Then(ctx, d.SendIt().ToItem("Lamp"))
	require.NoError(t, err)
	exec := f.registrar.last().Execute

	require.NoError(t, exec(ctx, rules.FiringContext{ReceivedCommand: "OFF"}))
	assert.Empty(t, f.items.recorded(), "false condition skips the operation")

	require.NoError(t, exec(ctx, rules.FiringContext{ReceivedCommand: "ON"}))
	assert.Equal(t, []string{"cmd Lamp=ON"}, f.items.recorded())
}

func TestRule_ConditionSeesItOnlyForCommands(t *testing.T) {
	f := newFixture(item("Lamp", items.TypeSwitch, "OFF"))
	d := f.dsl
	ctx := context.Background()

	rule, err := d.When(d.Item("Lamp").ReceivedUpdate())
	require.NoError(t, err)
	require.NoError(t, rule.Or(d.Item("Remote").ReceivedCommand()))

	var seen []string
	_, err = rule.
		IfFunc(func(_ context.Context, fc rules.FiringContext) (bool, error) {
			seen = append(seen, fc.It)
			return true, nil
		}).
		ThenFunc(ctx, func(context.Context, rules.FiringContext) error { return nil })
	require.NoError(t, err)
	exec := f.registrar.last().Execute

	require.NoError(t, exec(ctx, rules.FiringContext{ReceivedCommand: "ON"}))
	require.NoError(t, exec(ctx, rules.FiringContext{State: "OFF", ReceivedState: "OFF"}))
	assert.Equal(t, []string{"ON", ""}, seen)
}

func TestRule_ConditionErrorPropagates(t *testing.T) {
	f := newFixture(item("Lamp", items.TypeSwitch, "OFF"))
	d := f.dsl

	rule, err := d.When(d.Item("Lamp").ReceivedUpdate())
	require.NoError(t, err)
	_, err = rule.If(d.StateOfItem("Ghost").Is("ON")).Then(context.Background(), d.SendOn().ToItem("Lamp"))
	require.NoError(t, err)

	err = f.registrar.last().Execute(context.Background(), rules.FiringContext{})
	assert.ErrorIs(t, err, items.ErrItemNotFound)
	assert.Empty(t, f.items.recorded())
}

func TestRule_ConditionWrapsHooks(t *testing.T) {
	f := newDoorFixture()
	d := f.dsl

	timing, err := d.Item("Door").Changed().To("OPEN").For(time.Minute)
	require.NoError(t, err)
	rule, err := d.When(timing)
	require.NoError(t, err)
	_, err = rule.If(d.StateOfItem("Alarm").Is("ARMED")).Then(context.Background(), d.SendOn().ToItem("Alarm"))
	require.NoError(t, err)

	f.items.setState("Door", "OPEN")
	require.NoError(t, f.registrar.last().Execute(context.Background(), rules.FiringContext{}))
	assert.Empty(t, f.scheduler.timers, "a false condition stops before the timing hook")
}

// ─── Describe ───────────────────────────────────────────────────────────────

func TestRule_Describe(t *testing.T) {
	f := newFixture(item("Light", items.TypeSwitch, "OFF"))
	d := f.dsl

	rule, err := d.When(d.Item("Motion").Changed().ToOn())
	require.NoError(t, err)
	require.NoError(t, rule.Or(d.Cron("0 0 22 * * *")))

	assert.Equal(t, `item Motion changed to ON or matches cron "0 0 22 * * *" then ?`, rule.Describe())
	assert.Equal(t, rule.Describe(), rule.Describe())

	_, err = rule.Then(context.Background(), d.SendOn().ToItem("Light"), "Lights")
	require.NoError(t, err)

	assert.Equal(t, `item Motion changed to ON or matches cron "0 0 22 * * *" then send ON to Light (in group Lights)`, rule.Describe())
	assert.Equal(t, "Motion → ON | ⏲ 0 0 22 * * * ⇒ send ON to Light", rule.DescribeCompact())

	cfg := f.registrar.last()
	assert.Equal(t, "Lights", cfg.Group)
	assert.Equal(t, items.SafeItemName(rule.Describe()), cfg.Name)
	require.Len(t, cfg.Triggers, 2)
	assert.Equal(t, triggers.TypeItemStateChange, cfg.Triggers[0].TypeUID)
	assert.Equal(t, triggers.TypeGenericCron, cfg.Triggers[1].TypeUID)
}

func TestRule_ThenFuncDescribesCustomFunction(t *testing.T) {
	f := newFixture()
	d := f.dsl

	called := false
	rule, err := d.When(d.Cron("@hourly"))
	require.NoError(t, err)
	_, err = rule.ThenFunc(context.Background(), func(context.Context, rules.FiringContext) error {
		called = true
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, `matches cron "@hourly" then custom function`, rule.Describe())
	require.NoError(t, f.registrar.last().Execute(context.Background(), rules.FiringContext{}))
	assert.True(t, called)
}

// ─── State Machine ──────────────────────────────────────────────────────────

func TestRule_ThenRejectsIncompleteOperation(t *testing.T) {
	f := newFixture()
	d := f.dsl

	rule, err := d.When(d.Item("A").Changed())
	require.NoError(t, err)

	_, err = rule.Then(context.Background(), d.Send("ON"))
	assert.ErrorIs(t, err, ErrOperationIncomplete)
	_, err = rule.Then(context.Background(), nil)
	assert.ErrorIs(t, err, ErrOperationIncomplete)
	assert.Empty(t, f.registrar.configs)

	_, err = rule.Then(context.Background(), d.Send("ON").ToItem("B"))
	assert.NoError(t, err, "the rule is still open after a rejected operation")
}

func TestRule_FinalizedAfterThen(t *testing.T) {
	f := newFixture()
	d := f.dsl
	ctx := context.Background()

	rule, err := d.When(d.Item("A").Changed())
	require.NoError(t, err)
	_, err = rule.Then(ctx, d.SendOn().ToItem("B"))
	require.NoError(t, err)
	before := rule.Describe()

	assert.ErrorIs(t, rule.Or(d.Item("C").Changed()), ErrRuleFinalized)
	_, err = rule.Then(ctx, d.SendOff().ToItem("B"))
	assert.ErrorIs(t, err, ErrRuleFinalized)
	rule.If(Func(func(context.Context, rules.FiringContext) (bool, error) { return false, nil }))

	assert.Equal(t, before, rule.Describe())
	assert.Len(t, f.registrar.configs, 1)
}

func TestRule_RegistrationFailureLeavesRuleOpen(t *testing.T) {
	f := newFixture()
	d := f.dsl
	regErr := errors.New("engine down")
	f.registrar.err = regErr

	rule, err := d.When(d.Item("A").Changed())
	require.NoError(t, err)
	_, err = rule.Then(context.Background(), d.SendOn().ToItem("B"), "G")
	assert.ErrorIs(t, err, regErr)
	assert.Equal(t, "item A changed then ?", rule.Describe())

	f.registrar.err = nil
	_, err = rule.Then(context.Background(), d.SendOn().ToItem("B"))
	require.NoError(t, err)
}

func TestRule_ToggleablePath(t *testing.T) {
	f := newFixture()
	d := f.dsl

	rule, err := d.WhenToggleable(d.Item("A").ReceivedCommand())
	require.NoError(t, err)
	assert.True(t, rule.Toggleable())

	registered, err := rule.Then(context.Background(), d.SendIt().ToItem("B"), "Lights")
	require.NoError(t, err)
	assert.True(t, registered.Toggleable)
	assert.Equal(t, []bool{true}, f.registrar.toggleable)
	assert.Equal(t, "item_A_received_command_then_send_it_to_B__in_group_Lights_", f.registrar.last().Name)
}

// ─── Hook Nesting ───────────────────────────────────────────────────────────

// hookTrigger is a trigger whose hook records when it runs.
type hookTrigger struct {
	name string
	log  *[]string
}

func (h hookTrigger) Complete() bool       { return true }
func (h hookTrigger) Describe(bool) string { return h.name }

func (h hookTrigger) HostTriggers() ([]triggers.Trigger, error) {
	return []triggers.Trigger{triggers.ItemCommand(h.name, "")}, nil
}

func (h hookTrigger) ExecuteHook() Hook {
	return func(ctx context.Context, fc rules.FiringContext, next rules.ExecuteFunc) error {
		*h.log = append(*h.log, h.name+" before")
		err := next(ctx, fc)
		*h.log = append(*h.log, h.name+" after")
		return err
	}
}

func TestRule_LastTriggerHookIsOutermost(t *testing.T) {
	f := newFixture()
	d := f.dsl
	var log []string

	rule, err := d.When(hookTrigger{name: "first", log: &log})
	require.NoError(t, err)
	require.NoError(t, rule.Or(d.Item("plain").Changed()))
	require.NoError(t, rule.Or(hookTrigger{name: "second", log: &log}))

	_, err = rule.ThenFunc(context.Background(), func(context.Context, rules.FiringContext) error {
		log = append(log, "operation")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, f.registrar.last().Execute(context.Background(), rules.FiringContext{}))
	assert.Equal(t, []string{"second before", "first before", "operation", "first after", "second after"}, log)
}

func TestRule_CommandHookRunsForAnyTrigger(t *testing.T) {
	f := newFixture(item("Lamp", items.TypeSwitch, "OFF"))
	d := f.dsl

	rule, err := d.When(d.Item("Remote").ReceivedCommand())
	require.NoError(t, err)
	require.NoError(t, rule.Or(d.Cron("@daily")))
	_, err = rule.Then(context.Background(), d.SendIt().ToItem("Lamp"))
	require.NoError(t, err)

	require.NoError(t, f.registrar.last().Execute(context.Background(), rules.FiringContext{
		EventType:       rules.EventCommand,
		ReceivedCommand: "ON",
	}))
	assert.Equal(t, []string{"cmd Lamp=ON"}, f.items.recorded())
}

// Package rules is the rule engine that fluent rules are registered with.
//
// A rule is a set of host triggers plus an execute function. The engine
// fires a rule when one of its item triggers matches an item event, or when
// one of its cron or time-of-day triggers comes due, passing a FiringContext
// that describes what happened.
//
// Architecture:
//
//	┌─────────────────────────────────────────────────────────┐
//	│                     Engine (engine.go)                  │
//	│                                                         │
//	│  items.Registry ──event──▶ HandleEvent ──┐              │
//	│                                          ├──▶ execute   │
//	│  robfig/cron ─────tick───▶ fireTimer ────┘              │
//	│                                                         │
//	│  RegisterToggleable (toggle.go)                         │
//	│    switch item vRuleItemFor<Name> ──update──▶ proxy rule│
//	│                                  ──▶ SetEnabled(uid)    │
//	└─────────────────────────────────────────────────────────┘
//
// # Toggleable Rules
//
// A toggleable rule gets a generated Switch item. Posting OFF to the item
// disables the rule; any other state enables it. The item is restored from
// history on startup, or commanded ON when it has never had a state.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Execute functions run without any
// engine lock held, so they may send commands that fire further rules.
//
// # Usage
//
//	engine := rules.NewEngine(itemRegistry, rules.WithLocation(loc))
//	engine.SetLogger(log)
//	engine.Attach(itemRegistry)
//	engine.Start(ctx)
//	defer engine.Stop(shutdownCtx)
//
//	rule, err := engine.Register(ctx, rules.Config{
//	    Name:     "night-light",
//	    Triggers: []triggers.Trigger{triggers.GenericCron("0 0 22 * * *")},
//	    Execute: func(ctx context.Context, fc rules.FiringContext) error {
//	        return itemRegistry.SendCommand(ctx, "Hall_Light", "ON")
//	    },
//	})
package rules

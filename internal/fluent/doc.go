// Package fluent is a builder DSL for automation rules.
//
// A rule is composed from one or more triggers (OR-ed), an optional
// condition and an operation chain:
//
//	dsl := fluent.NewDSL(itemRegistry, ruleEngine)
//
//	rule, err := dsl.When(dsl.Item("Switch1").Changed().To("ON"))
//	if err != nil {
//	    return err
//	}
//	registered, err := rule.Then(ctx, dsl.Send("ON").ToItem("Switch2"))
//
// Then renders the triggers into host trigger descriptors, folds trigger
// execute hooks and the condition around the operation, and registers the
// result. The generated rule name is the description with every character
// outside [A-Za-z0-9_] replaced by "_":
//
//	item_Switch1_changed_to_ON_then_send_ON_to_Switch2
//
// # Execute Hooks
//
// A trigger may intercept rule execution. A received-command trigger sets
// FiringContext.It to the command before running the operation, so
// dsl.SendIt() forwards it. A timing trigger (Item(x).Changed().To(v).For(d))
// only runs the operation once x has held v for d.
//
// Hooks are nested in trigger order: the hook of the last trigger added is
// the outermost. A condition wraps all hooks.
//
// # Operations
//
// Operations chain with And. Each step runs only if the previous one was
// performed; a send with IfDifferent that finds the item already in the
// target state ends the chain without error.
package fluent

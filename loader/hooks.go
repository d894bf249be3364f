package loader

// Hooks bracket the execution of a unit body. BeforeExec runs after the
// unit is registered; AfterExec runs once the body has finished, with the
// failure if there was one, after a failed unit has been evicted. Both
// receive the running session and reach the registry through it.
type Hooks interface {
	BeforeExec(s *Session, u *Unit, res Resolved)
	AfterExec(s *Session, u *Unit, err error)
}

// HookFuncs adapts plain functions to Hooks. Nil fields are skipped.
type HookFuncs struct {
	Before func(*Session, *Unit, Resolved)
	After  func(*Session, *Unit, error)
}

func (h HookFuncs) BeforeExec(s *Session, u *Unit, res Resolved) {
	if h.Before != nil {
		h.Before(s, u, res)
	}
}

func (h HookFuncs) AfterExec(s *Session, u *Unit, err error) {
	if h.After != nil {
		h.After(s, u, err)
	}
}

// MultiHooks calls each Hooks in order.
type MultiHooks []Hooks

func (m MultiHooks) BeforeExec(s *Session, u *Unit, res Resolved) {
	for _, h := range m {
		h.BeforeExec(s, u, res)
	}
}

func (m MultiHooks) AfterExec(s *Session, u *Unit, err error) {
	for _, h := range m {
		h.AfterExec(s, u, err)
	}
}

type nopHooks struct{}

func (nopHooks) BeforeExec(*Session, *Unit, Resolved) {}
func (nopHooks) AfterExec(*Session, *Unit, error)     {}

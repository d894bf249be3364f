package loader

// loadFlags is the effective reload state of one call.
type loadFlags struct {
	Reload  bool
	Cascade bool
	InPlace bool
	Epoch   uint64
}

// settle computes the effective flags of a call. A load issued from the body
// of a unit that is being cascade-reloaded is itself a cascading reload,
// whatever the call site asked for. Cascade and in-place only mean something
// together with reload.
func settle(parent *Context, opts LoadOptions) loadFlags {
	f := loadFlags{Reload: opts.Reload, Cascade: opts.Cascade, InPlace: opts.InPlace}
	if parent != nil && parent.Reload && parent.Cascade {
		f.Reload, f.Cascade, f.InPlace = true, true, parent.InPlace
	}
	if !f.Reload {
		f.Cascade, f.InPlace = false, false
	}
	return f
}

// epochFor returns the cascade epoch of a call: the one inherited through
// the context tree, a freshly allocated one when a new cascade starts, or 0.
func (l *Loader) epochFor(parent *Context, f loadFlags) uint64 {
	if parent != nil && parent.Epoch != 0 {
		return parent.Epoch
	}
	if f.Reload && f.Cascade {
		l.epoch++
		return l.epoch
	}
	return 0
}

// handled reports whether the registered unit u can be returned without
// executing anything: either no reload was asked for, or u was already
// (re)loaded during the running cascade.
func handled(u *Unit, f loadFlags) bool {
	if !f.Reload {
		return true
	}
	return f.Cascade && f.Epoch != 0 && u.ctx != nil && u.ctx.Epoch == f.Epoch
}

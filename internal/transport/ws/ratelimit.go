package ws

import "time"

// Limits caps requests per connection within a fixed window. A zero max
// leaves that op unlimited.
type Limits struct {
	Window      time.Duration
	ProbeMax    int
	AssembleMax int
	SetCellMax  int
}

type window struct {
	start time.Time
	count int
}

// limiter is per connection and only touched by its reader goroutine.
type limiter struct {
	limits Limits
	now    func() time.Time
	w      map[string]*window
}

func newLimiter(l Limits, now func() time.Time) *limiter {
	return &limiter{limits: l, now: now, w: map[string]*window{}}
}

// bucket maps a request type to the window it counts against.
func (l *limiter) bucket(kind string) (string, int) {
	switch kind {
	case "PROBE":
		return "probe", l.limits.ProbeMax
	case "ASSEMBLE", "CRAFT_TOKEN":
		return "assemble", l.limits.AssembleMax
	case "SET_CELL", "GIVE":
		return "edit", l.limits.SetCellMax
	}
	return "", 0
}

// allow reports whether kind may run now, and if not how long until the
// window reopens.
func (l *limiter) allow(kind string) (bool, time.Duration) {
	name, max := l.bucket(kind)
	if l.limits.Window <= 0 || max <= 0 {
		return true, 0
	}
	now := l.now()
	w, ok := l.w[name]
	if !ok {
		w = &window{start: now}
		l.w[name] = w
	}
	if now.Sub(w.start) >= l.limits.Window {
		w.start = now
		w.count = 0
	}
	w.count++
	if w.count <= max {
		return true, 0
	}
	return false, w.start.Add(l.limits.Window).Sub(now)
}

package store

// Signal is a plain change notification with a list of subscribers.
type Signal struct {
	observers []func()
}

// Subscribe registers fn and returns a cancel function.
func (s *Signal) Subscribe(fn func()) func() {
	s.observers = append(s.observers, fn)
	idx := len(s.observers) - 1
	return func() {
		s.observers[idx] = nil
	}
}

// Notify invokes all live subscribers.
func (s *Signal) Notify() {
	for _, fn := range s.observers {
		if fn != nil {
			fn()
		}
	}
}

// AdditionSignal notifies subscribers about a newly seen string value, e.g.
// a grape variety or country appearing for the first time.
type AdditionSignal struct {
	observers []func(value string)
}

// Subscribe registers fn and returns a cancel function.
func (s *AdditionSignal) Subscribe(fn func(value string)) func() {
	s.observers = append(s.observers, fn)
	idx := len(s.observers) - 1
	return func() {
		s.observers[idx] = nil
	}
}

// Notify invokes all live subscribers with the new value.
func (s *AdditionSignal) Notify(value string) {
	for _, fn := range s.observers {
		if fn != nil {
			fn(value)
		}
	}
}

// TotalsSignal carries incremental updates to the cellar-wide bottle count
// and total value. Subscribers read the most recent deltas.
type TotalsSignal struct {
	Signal
	priceDelta float64
	countDelta int
}

// NotifyDelta records the deltas and notifies subscribers.
func (s *TotalsSignal) NotifyDelta(priceDelta float64, countDelta int) {
	s.priceDelta = priceDelta
	s.countDelta = countDelta
	s.Notify()
}

// PriceDelta returns the price change of the most recent notification.
func (s *TotalsSignal) PriceDelta() float64 { return s.priceDelta }

// CountDelta returns the count change of the most recent notification.
func (s *TotalsSignal) CountDelta() int { return s.countDelta }

// Watchpoints bundles the cross-cutting notification channels the UI layers
// subscribe to. Passing the bundle into the store keeps it injectable.
type Watchpoints struct {
	Deletions         Signal
	GrapeNames        Signal
	VineyardCountries Signal
	VineyardRegions   Signal
	Totals            TotalsSignal
	Grapes            AdditionSignal
	Countries         AdditionSignal
	Regions           AdditionSignal
}

// NewWatchpoints returns an empty watchpoint bundle.
func NewWatchpoints() *Watchpoints {
	return &Watchpoints{}
}

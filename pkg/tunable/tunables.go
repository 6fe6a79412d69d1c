package tunable

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Values are stored in thousandths so they can be updated atomically.
const scale = 1000

type Tunable struct {
	Name  string
	Value int64

	owner *Tunables
}

// Add nudges the value by delta thousandths.
func (t *Tunable) Add(delta int) {
	newV := atomic.AddInt64(&t.Value, int64(delta))
	t.changed()
	fmt.Println("Tunable", t.Name, "=", float64(newV)/scale)
}

func (t *Tunable) Set(v float64) {
	atomic.StoreInt64(&t.Value, int64(math.Round(v*scale)))
	t.changed()
	fmt.Println("Tunable", t.Name, "=", t.Get())
}

func (t *Tunable) Get() float64 {
	return float64(atomic.LoadInt64(&t.Value)) / scale
}

func (t *Tunable) changed() {
	if t.owner != nil {
		atomic.AddUint64(&t.owner.generation, 1)
	}
}

// Tunables is a set of values adjusted from the console while the loop runs.
// The set is built before the loop starts; only values change afterwards.
type Tunables struct {
	All        []*Tunable
	selected   int
	generation uint64
}

func (t *Tunables) Create(name string, value float64) *Tunable {
	newTunable := &Tunable{
		Name:  name,
		Value: int64(math.Round(value * scale)),
		owner: t,
	}
	t.All = append(t.All, newTunable)
	return newTunable
}

func (t *Tunables) Find(name string) *Tunable {
	for _, tn := range t.All {
		if tn.Name == name {
			return tn
		}
	}
	return nil
}

// Generation changes whenever any value does.
func (t *Tunables) Generation() uint64 {
	return atomic.LoadUint64(&t.generation)
}

func (t *Tunables) SelectNext() {
	t.selected++
	if t.selected >= len(t.All) {
		t.selected = 0
	}
	fmt.Println("Tunable", t.Current().Name, "selected, value:", t.Current().Get())
}

func (t *Tunables) SelectPrev() {
	t.selected--
	if t.selected < 0 {
		t.selected = len(t.All) - 1
	}
	fmt.Println("Tunable", t.Current().Name, "selected, value:", t.Current().Get())
}

func (t *Tunables) Current() *Tunable {
	return t.All[t.selected]
}

package visibility

import (
	"github.com/samber/lo"
)

// markPrefix is shown in front of the label of a visible entity.
const markPrefix = "✓ "

// Option is one selector entry. Marked mirrors the entity's visibility;
// Selected is the user's pick for ToggleSelected.
type Option struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Marked   bool   `json:"marked"`
	Selected bool   `json:"selected"`
}

// Text is the label as displayed, with the mark when visible.
func (o Option) Text() string {
	if o.Marked {
		return markPrefix + o.Label
	}
	return o.Label
}

// Selector is the list of entity options shown next to the plots.
type Selector struct {
	options []Option
	index   map[string]int
}

// NewSelector creates an empty selector.
func NewSelector() *Selector {
	return &Selector{index: make(map[string]int)}
}

// add appends an option; new options start selected. Re-adding a key only
// refreshes its mark.
func (s *Selector) add(key, label string, marked bool) {
	if i, ok := s.index[key]; ok {
		s.options[i].Marked = marked
		return
	}
	s.index[key] = len(s.options)
	s.options = append(s.options, Option{Key: key, Label: label, Marked: marked, Selected: true})
}

func (s *Selector) has(key string) bool {
	_, ok := s.index[key]
	return ok
}

func (s *Selector) mark(key string, marked bool) {
	if i, ok := s.index[key]; ok {
		s.options[i].Marked = marked
	}
}

func (s *Selector) selectOnly(keys []string) {
	want := lo.SliceToMap(keys, func(k string) (string, struct{}) {
		return k, struct{}{}
	})
	for i := range s.options {
		_, s.options[i].Selected = want[s.options[i].Key]
	}
}

// Selected returns the selected keys in option order.
func (s *Selector) Selected() []string {
	return lo.FilterMap(s.options, func(o Option, _ int) (string, bool) {
		return o.Key, o.Selected
	})
}

// Options returns a copy of all options.
func (s *Selector) Options() []Option {
	out := make([]Option, len(s.options))
	copy(out, s.options)
	return out
}

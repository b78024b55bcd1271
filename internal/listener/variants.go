package listener

import (
	"sort"

	"github.com/HerbHall/tagwatch/pkg/reader"
)

// Variant names.
const (
	VariantNotify = "notify"
	VariantBRM    = "brm"
)

// popFunc returns the next raw record for one event kind, or nil once the
// queue is empty. It must return an untyped nil, never a typed nil pointer.
type popFunc func(s reader.Session, ext reader.Extension) any

type handler struct {
	pop popFunc
	// single handlers decode one record per popped event instead of
	// draining a queue.
	single bool
}

// Variant is a capability table: which event kinds a reader model reports
// and how to pop their records.
type Variant struct {
	Name           string
	NeedsExtension bool
	handlers       map[reader.EventKind]handler
}

// Handles reports whether events of kind are decoded by this variant.
func (v Variant) Handles(kind reader.EventKind) bool {
	_, ok := v.handlers[kind]
	return ok
}

// Kinds lists the handled kinds in ascending order.
func (v Variant) Kinds() []reader.EventKind {
	out := make([]reader.EventKind, 0, len(v.handlers))
	for k := range v.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var variants = map[string]Variant{
	VariantNotify: {
		Name:           VariantNotify,
		NeedsExtension: true,
		handlers: map[reader.EventKind]handler{
			reader.EventTag:            {pop: popTag},
			reader.EventBRM:            {pop: popBRM},
			reader.EventDiag:           {pop: popDiag},
			reader.EventInput:          {pop: popInput},
			reader.EventIdentification: {pop: popIdentification, single: true},
			reader.EventPeopleCounter:  {pop: popPeopleCounter},
		},
	},
	VariantBRM: {
		Name: VariantBRM,
		handlers: map[reader.EventKind]handler{
			reader.EventBRM:  {pop: popBRM},
			reader.EventDiag: {pop: popDiag},
		},
	},
}

// queues pops any record kind regardless of variant, so records of kinds a
// variant does not handle can still be dropped. Identification is a
// snapshot, not a queue.
var queues = map[reader.EventKind]popFunc{
	reader.EventTag:           popTag,
	reader.EventBRM:           popBRM,
	reader.EventDiag:          popDiag,
	reader.EventInput:         popInput,
	reader.EventPeopleCounter: popPeopleCounter,
}

// discard empties the queue behind kind and returns how many records it
// dropped.
func discard(s reader.Session, ext reader.Extension, kind reader.EventKind) int {
	pop, ok := queues[kind]
	if !ok {
		return 0
	}
	n := 0
	for raw := pop(s, ext); raw != nil; raw = pop(s, ext) {
		n++
	}
	return n
}

// LookupVariant returns the variant registered under name. An empty name
// selects VariantNotify.
func LookupVariant(name string) (Variant, bool) {
	if name == "" {
		name = VariantNotify
	}
	v, ok := variants[name]
	return v, ok
}

// VariantNames lists the registered variant names in sorted order.
func VariantNames() []string {
	out := make([]string, 0, len(variants))
	for n := range variants {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func popTag(s reader.Session, _ reader.Extension) any {
	if it := s.TagEvents().PopItem(); it != nil {
		return it
	}
	return nil
}

func popBRM(s reader.Session, _ reader.Extension) any {
	if it := s.BRM().PopItem(); it != nil {
		return it
	}
	return nil
}

func popDiag(s reader.Session, _ reader.Extension) any {
	if it := s.Diagnostic().PopItem(); it != nil {
		return it
	}
	return nil
}

func popInput(s reader.Session, _ reader.Extension) any {
	if it := s.IO().PopInItem(); it != nil {
		return it
	}
	return nil
}

func popIdentification(s reader.Session, _ reader.Extension) any {
	if id := s.Identification(); id != nil {
		return id
	}
	return nil
}

func popPeopleCounter(_ reader.Session, ext reader.Extension) any {
	if ext == nil {
		return nil
	}
	if it := ext.PopPeopleCounterItem(); it != nil {
		return it
	}
	return nil
}

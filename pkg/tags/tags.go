package tags

import (
	"fmt"
	"net/http"
	"slices"
)

// TariffNamespace is the reserved top-level snapshot key under which tariff
// endpoint results are stored, keyed by tariff identifier.
const TariffNamespace = "@tariff"

// StatisticsKey is the top-level snapshot key holding the statistics subtypes.
const StatisticsKey = "statistics"

// Scope is the resource class a tag belongs to. It decides how the tag is
// addressed in the snapshot and where writes are routed.
type Scope int

const (
	// ScopeNone is only meaningful as a WriteScope, meaning "same as Scope".
	ScopeNone Scope = iota
	ScopeSite
	ScopeLoadpoint
	ScopeVehicle
	ScopeStatistics
	ScopeTariff
)

func (s Scope) String() string {
	switch s {
	case ScopeSite:
		return "site"
	case ScopeLoadpoint:
		return "loadpoint"
	case ScopeVehicle:
		return "vehicle"
	case ScopeStatistics:
		return "statistics"
	case ScopeTariff:
		return "tariff"
	default:
		return "none"
	}
}

// Indexed returns true if tags of this scope need a loadpoint index.
func (s Scope) Indexed() bool {
	return s == ScopeLoadpoint || s == ScopeVehicle
}

// Kind tells the host which kind of widget to materialize for a tag.
type Kind int

const (
	KindSensor Kind = iota
	KindBinary
	KindNumber
	KindSwitch
	KindSelect
	KindButton
	KindText
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "binary"
	case KindNumber:
		return "number"
	case KindSwitch:
		return "switch"
	case KindSelect:
		return "select"
	case KindButton:
		return "button"
	case KindText:
		return "text"
	case KindTime:
		return "time"
	default:
		return "sensor"
	}
}

// ID identifies a tag. Identity is by ID and never by JSON key since several
// tags share a JSON key under different scopes or statistics subtypes.
type ID string

// Tag is an immutable descriptor mapping an abstract field to its read path
// and write endpoint.
type Tag struct {
	ID   ID
	Name string

	JSONKey string
	Scope   Scope

	// Container is the nested object holding JSONKey when the controller
	// reports the nested representation (currently only "grid"). LegacyKey is
	// the flat top-level key used otherwise.
	Container string
	LegacyKey string

	StatisticsSubtype string

	// Plan marks vehicle tags that live inside the plan object (or the first
	// element of the legacy plans list).
	Plan bool

	// WriteKey may contain "/" for compound endpoints like "enable/threshold";
	// it is never parsed further.
	WriteKey      string
	WriteScope    Scope
	TriggerMethod string

	Kind        Kind
	Unit        string
	EnumOptions []string

	// Scale multiplies numeric values after extraction, 0 means 1.
	Scale float64
	// Min and Max clamp numeric values when HasRange is set.
	HasRange bool
	Min      float64
	Max      float64

	Monotonic  bool
	TimeValued bool
	Computed   bool
}

// Writable returns true if values can be written to the controller.
func (t Tag) Writable() bool {
	return t.WriteKey != ""
}

// EffectiveWriteScope returns the scope writes are routed to.
func (t Tag) EffectiveWriteScope() Scope {
	if t.WriteScope != ScopeNone {
		return t.WriteScope
	}
	return t.Scope
}

// Method returns the HTTP method used when the tag is triggered as a button.
func (t Tag) Method() string {
	if t.TriggerMethod != "" {
		return t.TriggerMethod
	}
	return http.MethodDelete
}

// clone detaches the tag from the catalog's backing slices.
func (t Tag) clone() Tag {
	t.EnumOptions = slices.Clone(t.EnumOptions)
	return t
}

var byID map[ID]Tag

func init() {
	all := append([]Tag{}, catalog...)
	all = append(all, statisticsTags()...)
	catalog = all

	byID = make(map[ID]Tag, len(catalog))
	for _, t := range catalog {
		if _, ok := byID[t.ID]; ok {
			panic(fmt.Sprintf("duplicate tag id: %s", t.ID))
		}
		byID[t.ID] = t
	}
}

// Lookup returns the tag with the given id. The catalog is closed so an
// unknown id is a programming error and panics.
func Lookup(id ID) Tag {
	t, ok := byID[id]
	if !ok {
		panic(fmt.Sprintf("unknown tag: %s", id))
	}
	return t.clone()
}

// Find is the non-panicking variant of Lookup for ids coming from outside
// the process, like the HTTP surface.
func Find(id ID) (Tag, bool) {
	t, ok := byID[id]
	if !ok {
		return Tag{}, false
	}
	return t.clone(), true
}

// All returns every tag in catalog order.
func All() []Tag {
	out := make([]Tag, len(catalog))
	for i, t := range catalog {
		out[i] = t.clone()
	}
	return out
}

// ByScope returns the tags read from the given scope in catalog order.
func ByScope(scope Scope) []Tag {
	var out []Tag
	for _, t := range catalog {
		if t.Scope == scope {
			out = append(out, t.clone())
		}
	}
	return out
}

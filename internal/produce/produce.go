package produce

import (
	"fmt"
	"strings"
)

// Type is a produce category the user can declare for analysis
type Type struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// IsZero reports whether no produce type is selected
func (t Type) IsZero() bool {
	return t.Value == ""
}

func (t Type) String() string {
	return t.Value
}

var catalog = []Type{
	{Value: "apple", Label: "Apple"},
	{Value: "banana", Label: "Banana"},
	{Value: "tomato", Label: "Tomato"},
	{Value: "orange", Label: "Orange"},
	{Value: "potato", Label: "Potato"},
	{Value: "cucumber", Label: "Cucumber"},
	{Value: "capsicum", Label: "Capsicum"},
	{Value: "okra", Label: "Okra"},
}

// Catalog returns the supported produce types in display order
func Catalog() []Type {
	out := make([]Type, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a produce type by its machine value
func Lookup(value string) (Type, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, t := range catalog {
		if t.Value == v {
			return t, true
		}
	}
	return Type{}, false
}

// Parse is Lookup with an error for unknown values
func Parse(value string) (Type, error) {
	t, ok := Lookup(value)
	if !ok {
		return Type{}, fmt.Errorf("unsupported produce type: %q", value)
	}
	return t, nil
}

package entity

import "strings"

// TypeDescriptor is one entry in a DataDictionary: a label's parent types,
// whether new entities of this type may be created, and an opaque identifier
// the host domain assigns.
type TypeDescriptor struct {
	Name              string
	Parents           []string
	CreationPermitted bool
	DomainTypeID      string
}

// DataDictionary maps label names (plain or dotted-package-qualified) to type
// descriptors. The resolver treats it as read-only.
type DataDictionary struct {
	types map[string]TypeDescriptor
}

// NewDataDictionary builds a dictionary from a flat list of descriptors.
func NewDataDictionary(descriptors ...TypeDescriptor) DataDictionary {
	d := DataDictionary{types: make(map[string]TypeDescriptor, len(descriptors))}
	for _, td := range descriptors {
		d.types[stripQualifier(td.Name)] = td
	}
	return d
}

// Lookup returns the descriptor for label, stripping any dotted package
// qualifier first. ok is false if the label is unknown.
func (d DataDictionary) Lookup(label string) (TypeDescriptor, bool) {
	td, ok := d.types[stripQualifier(label)]
	return td, ok
}

// CreationPermitted reports whether any of labels permits creating a new
// entity. Unknown labels are treated as non-creatable.
func (d DataDictionary) CreationPermitted(labels []string) bool {
	for _, l := range labels {
		if td, ok := d.Lookup(l); ok && td.CreationPermitted {
			return true
		}
	}
	return false
}

// stripQualifier drops everything up to and including the last '.' so
// "com.example.Person" and "Person" compare equal.
func stripQualifier(label string) string {
	if i := strings.LastIndexByte(label, '.'); i >= 0 {
		return label[i+1:]
	}
	return label
}

func normalizeLabel(label string) string {
	return strings.ToLower(stripQualifier(label))
}

// LabelsCompatible implements §4.3's label compatibility rule: case-
// insensitive after stripping dotted qualifiers, matching on direct overlap,
// ancestor relationship in either direction, or a shared common ancestor.
// The type "Entity" is ignored (everything is an Entity; it carries no
// discriminating information).
func LabelsCompatible(dict DataDictionary, a, b []string) bool {
	aSet := normalizeSet(a)
	bSet := normalizeSet(b)
	delete(aSet, "entity")
	delete(bSet, "entity")
	if len(aSet) == 0 || len(bSet) == 0 {
		return true // nothing discriminating to compare
	}

	for l := range aSet {
		if bSet[l] {
			return true
		}
	}

	aAnc := ancestorClosure(dict, aSet)
	bAnc := ancestorClosure(dict, bSet)
	for l := range aSet {
		if bAnc[l] {
			return true
		}
	}
	for l := range bSet {
		if aAnc[l] {
			return true
		}
	}
	for l := range aAnc {
		if bAnc[l] {
			return true
		}
	}
	return false
}

func normalizeSet(labels []string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[normalizeLabel(l)] = true
	}
	return set
}

// ancestorClosure walks each label's Parents chain to its transitive closure,
// breadth-first, guarding against cycles in a malformed dictionary.
func ancestorClosure(dict DataDictionary, labels map[string]bool) map[string]bool {
	closure := make(map[string]bool)
	queue := make([]string, 0, len(labels))
	for l := range labels {
		queue = append(queue, l)
	}
	visited := map[string]bool{}
	for len(queue) > 0 {
		l := queue[0]
		queue = queue[1:]
		if visited[l] {
			continue
		}
		visited[l] = true
		td, ok := dict.Lookup(l)
		if !ok {
			continue
		}
		for _, p := range td.Parents {
			np := normalizeLabel(p)
			if np == "entity" {
				continue
			}
			closure[np] = true
			queue = append(queue, np)
		}
	}
	return closure
}

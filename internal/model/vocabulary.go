package model

import "fmt"

// Unlabeled marks a label that has not been chosen yet. It is never a member
// of a vocabulary.
const Unlabeled = "unlabeled"

// Vocabulary is the ordered, closed set of fruit labels. The index of a label
// is the class id of the fruit-type head, so the order must not change between
// training and inference.
type Vocabulary []string

// DefaultVocabulary lists the fruit types the classifier ships with.
var DefaultVocabulary = Vocabulary{
	"apple",
	"banana",
	"orange",
	"grape",
	"strawberry",
	"mango",
	"pear",
	"peach",
}

// Index returns the class id of label.
func (v Vocabulary) Index(label string) (int, bool) {
	for i, l := range v {
		if l == label {
			return i, true
		}
	}
	return -1, false
}

// Validate checks that v is non-empty and holds unique, usable labels.
func (v Vocabulary) Validate() error {
	if len(v) == 0 {
		return fmt.Errorf("vocabulary is empty")
	}
	seen := make(map[string]struct{}, len(v))
	for i, l := range v {
		if l == "" || l == Unlabeled {
			return fmt.Errorf("vocabulary entry %d: %q is not a usable label", i, l)
		}
		if _, dup := seen[l]; dup {
			return fmt.Errorf("vocabulary entry %d: duplicate label %q", i, l)
		}
		seen[l] = struct{}{}
	}
	return nil
}

// Equal reports whether both vocabularies hold the same labels in the same order.
func (v Vocabulary) Equal(o Vocabulary) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

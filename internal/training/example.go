package training

import (
	"fmt"
	"strings"
)

// Toxicity is the binary contamination label of an example. The zero value
// is Unlabeled, which training rejects.
type Toxicity int

const (
	Unlabeled Toxicity = iota
	Toxic
	NonToxic
)

func (t Toxicity) String() string {
	switch t {
	case Toxic:
		return "toxic"
	case NonToxic:
		return "non-toxic"
	default:
		return "unlabeled"
	}
}

// Target is the sigmoid head target: 1 for toxic, 0 otherwise.
func (t Toxicity) Target() float64 {
	if t == Toxic {
		return 1
	}
	return 0
}

// ParseToxicity accepts toxic, non-toxic (or nontoxic, non_toxic, safe) and
// unlabeled, case-insensitively. The empty string is Unlabeled.
func ParseToxicity(s string) (Toxicity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "toxic":
		return Toxic, nil
	case "non-toxic", "nontoxic", "non_toxic", "safe":
		return NonToxic, nil
	case "", "unlabeled":
		return Unlabeled, nil
	}
	return Unlabeled, fmt.Errorf("unknown toxicity label %q", s)
}

func (t Toxicity) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Toxicity) UnmarshalText(b []byte) error {
	v, err := ParseToxicity(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Example is one labelled image. ID identifies it in errors; it is usually
// the file path the image came from.
type Example struct {
	ID        string
	Image     []byte
	FruitType string
	Toxicity  Toxicity
}

// Relabel replaces both labels. Labels are only read when a run starts, so
// relabelling between runs is always safe.
func (e *Example) Relabel(fruit string, toxicity Toxicity) {
	e.FruitType = fruit
	e.Toxicity = toxicity
}

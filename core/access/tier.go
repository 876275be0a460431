package access

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Tier is the course access level of a visitor. It is derived from purchases on every
// request and never stored.
type Tier int

const (
	TierNone  Tier = iota // no authenticated identity
	TierTrial             // authenticated, no course or bundle purchase
	TierFull              // completed course or bundle purchase
)

var ErrUnknownTier = errors.New("unknown access tier")

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierTrial:
		return "trial"
	case TierFull:
		return "full"
	}
	return "unknown"
}

func ParseTier(s string) (Tier, error) {
	switch s {
	case "none":
		return TierNone, nil
	case "trial":
		return TierTrial, nil
	case "full":
		return TierFull, nil
	}
	return TierNone, errors.Wrap(ErrUnknownTier, s)
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	tier, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

package generation

// Tier is one step of the bounded generation sequence.
type Tier int

const (
	TierPrimaryChat Tier = iota
	TierRetryChat
	TierFallbackGenerate
	TierDone
)

// Every tier is entered at most once per request; the table has no cycles.
var nextTier = map[Tier]Tier{
	TierPrimaryChat:      TierRetryChat,
	TierRetryChat:        TierFallbackGenerate,
	TierFallbackGenerate: TierDone,
}

// Next returns the tier that follows t when t did not produce a sufficient answer.
func (t Tier) Next() Tier {
	if n, ok := nextTier[t]; ok {
		return n
	}
	return TierDone
}

func (t Tier) String() string {
	switch t {
	case TierPrimaryChat:
		return "primary_chat"
	case TierRetryChat:
		return "retry_chat"
	case TierFallbackGenerate:
		return "fallback_generate"
	default:
		return "done"
	}
}

// MarshalText renders the tier by name in JSON payloads.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

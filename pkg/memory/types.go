package memory

// Category classifies durable long-term memories. The enumeration is closed:
// anything outside it is non-durable and never persisted by the gated path.
type Category string

const (
	CategoryRelationships Category = "relationships"
	CategoryPreferences   Category = "preferences"
	CategoryGoals         Category = "goals"
	CategoryPersonalFacts Category = "personal_facts"
)

// DurableCategories returns the closed set of categories eligible for
// long-term storage, in canonical order.
func DurableCategories() []Category {
	return []Category{
		CategoryRelationships,
		CategoryPreferences,
		CategoryGoals,
		CategoryPersonalFacts,
	}
}

// ParseCategory maps a store-side string to the closed enumeration.
// The enum is the single source of truth; free-form strings from record
// metadata are translated here and nowhere else.
func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryRelationships, CategoryPreferences, CategoryGoals, CategoryPersonalFacts:
		return Category(s), true
	}
	return "", false
}

// Item is one extracted durable memory candidate: a canonical sentence plus
// its category. Immutable once created.
type Item struct {
	Text     string
	Category Category
}

// Extraction decision reasons.
const (
	ReasonEmpty          = "empty"
	ReasonNoDurableMatch = "no_durable_match"
	ReasonDurableMatch   = "durable_match"
)

// Decision is the heuristic extractor's verdict for one utterance.
type Decision struct {
	Items  []Item
	Reason string
}

// ShouldStore reports whether the decision carries anything to persist.
func (d Decision) ShouldStore() bool { return len(d.Items) > 0 }

// ActionOp is a gatekeeper mutation kind.
type ActionOp string

const (
	OpAdd    ActionOp = "add"
	OpUpdate ActionOp = "update"
)

// Action is one store mutation proposed by the LLM gatekeeper.
// MemoryID is required when Op is OpUpdate.
type Action struct {
	Op       ActionOp
	Text     string
	Category Category
	MemoryID string
}

// Status classifies a gatekeeper outcome.
type Status string

const (
	StatusStore Status = "store"
	StatusSkip  Status = "skip"
	StatusError Status = "error"
)

// Gatekeeper error reasons.
const (
	ReasonMissingAPIKey      = "missing_api_key"
	ReasonTransportError     = "transport_error"
	ReasonInvalidJSON        = "invalid_json"
	ReasonStoreTrueNoActions = "store_true_no_actions"
	ReasonNoValidActions     = "no_valid_actions"
)

// Result is the LLM gatekeeper's verdict for one utterance.
type Result struct {
	Actions []Action
	Reason  string
	Status  Status
}

// ShouldStore reports whether validated actions survived.
func (r Result) ShouldStore() bool { return len(r.Actions) > 0 }

// MetadataCategoryKey is the metadata key carrying the category string on
// persisted records.
const MetadataCategoryKey = "category"

// Record is an existing memory as returned by the store. The store owns
// records; this core only reads them and proposes mutations.
type Record struct {
	ID       string
	Memory   string
	Metadata map[string]string
}

// DurableCategory returns the record's category when it carries a valid one.
func (r Record) DurableCategory() (Category, bool) {
	return ParseCategory(r.Metadata[MetadataCategoryKey])
}

// SearchResult is a ranked record from a store search.
type SearchResult struct {
	Record
	Score float64
}

package vgspec

// Origin describes where a data source's input tuples come from.
type Origin int

const (
	// OriginNone means no input member is declared; tuples are produced by
	// the first transform (a generator or an executor step).
	OriginNone Origin = iota

	// OriginValues is an inline literal dataset.
	OriginValues

	// OriginURL is a file loaded by the client.
	OriginURL

	// OriginSource derives from other data sources of the document.
	OriginSource

	// OriginRelation is bound to a remote table through the "relation" member.
	OriginRelation
)

// RelationKey is the data-level member that binds a source to a remote table.
const RelationKey = "relation"

func (o Origin) String() string {
	switch o {
	case OriginValues:
		return "values"
	case OriginURL:
		return "url"
	case OriginSource:
		return "source"
	case OriginRelation:
		return "relation"
	default:
		return "none"
	}
}

// Origin classifies the data source's input. A relation binding wins over
// every other member.
func (d DataSource) Origin() Origin {
	switch {
	case d.has(RelationKey):
		return OriginRelation
	case d.has("values"):
		return OriginValues
	case d.has("url"):
		return OriginURL
	case d.has("source"):
		return OriginSource
	default:
		return OriginNone
	}
}

// SourceNames returns the upstream data sources named by "source", which may
// be a single name or an array of names. Non-string entries are returned as
// ok=false.
func (d DataSource) SourceNames() (names []string, ok bool) {
	switch v := d.Props["source"].(type) {
	case nil:
		return nil, true
	case string:
		return []string{v}, true
	default:
		return StringList(v)
	}
}

// Relation returns the raw value of the relation member.
func (d DataSource) Relation() (any, bool) {
	v, ok := d.Props[RelationKey]
	return v, ok
}

func (d DataSource) has(key string) bool {
	_, ok := d.Props[key]
	return ok
}

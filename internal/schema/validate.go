package schema

import (
	"fmt"
	"strings"
)

// Validation error codes (E100-E199)
const (
	// Kind errors (E101-E104)
	ErrNoKinds           = "E101" // at least one kind required
	ErrKindEndpoint      = "E102" // endpoint must be a collection path
	ErrKindOrderBy       = "E103" // order_by must be non-empty
	ErrDuplicateKindName = "E104" // duplicate kind name

	// Relation errors (E110-E119)
	ErrUnknownKind         = "E110" // owner/related kind not declared
	ErrDuplicateKey        = "E111" // key collides on the same kind
	ErrInvalidMultiplicity = "E112" // multiplicity not one_to_many/many_to_many
	ErrForeignKeyScope     = "E113" // foreign_key needs a reciprocal one_to_many relation
	ErrPayloadNeedsKey     = "E114" // in_payload needs a foreign_key

	// Action errors (E120-E129)
	ErrUnknownRelation = "E120" // action relation not declared on subject
	ErrInvalidOp       = "E121" // op not add/remove
	ErrInvalidPath     = "E122" // path lacks {id}
	ErrInvalidMethod   = "E123" // method not a write verb
	ErrDuplicateAction = "E124" // duplicate action name
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var writeMethods = map[string]bool{"PUT": true, "POST": true, "DELETE": true, "PATCH": true}

// Validate checks cross-references the CUE constraints cannot express.
// Returns all errors found (does not fail-fast).
func Validate(s *Schema) []ValidationError {
	var errs []ValidationError

	if len(s.Kinds) == 0 {
		errs = append(errs, ValidationError{Field: "kind", Message: "at least one kind is required", Code: ErrNoKinds})
	}

	kinds := make(map[Kind]bool, len(s.Kinds))
	for i, k := range s.Kinds {
		field := fmt.Sprintf("kind[%d]", i)
		if kinds[k.Name] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("duplicate kind %q", k.Name), Code: ErrDuplicateKindName})
		}
		kinds[k.Name] = true

		if !strings.HasPrefix(k.Endpoint, "/") || !strings.HasSuffix(k.Endpoint, "/") {
			errs = append(errs, ValidationError{Field: field + ".endpoint", Message: fmt.Sprintf("endpoint %q must start and end with /", k.Endpoint), Code: ErrKindEndpoint})
		}
		if strings.TrimSpace(k.OrderBy) == "" {
			errs = append(errs, ValidationError{Field: field + ".order_by", Message: "order_by is required", Code: ErrKindOrderBy})
		}
	}

	// keys tracks every slot name per kind, forward and reverse.
	keys := make(map[Kind]map[string]bool)
	claim := func(k Kind, key string) bool {
		if keys[k] == nil {
			keys[k] = make(map[string]bool)
		}
		if keys[k][key] {
			return false
		}
		keys[k][key] = true
		return true
	}

	for i, r := range s.Relations {
		field := fmt.Sprintf("relation[%d]", i)
		if !kinds[r.Owner] {
			errs = append(errs, ValidationError{Field: field + ".owner", Message: fmt.Sprintf("unknown kind %q", r.Owner), Code: ErrUnknownKind})
		}
		if !kinds[r.Related] {
			errs = append(errs, ValidationError{Field: field + ".related", Message: fmt.Sprintf("unknown kind %q", r.Related), Code: ErrUnknownKind})
		}
		if r.Multiplicity != OneToMany && r.Multiplicity != ManyToMany {
			errs = append(errs, ValidationError{Field: field + ".multiplicity", Message: fmt.Sprintf("invalid multiplicity %q", r.Multiplicity), Code: ErrInvalidMultiplicity})
		}
		if !claim(r.Owner, r.Key) {
			errs = append(errs, ValidationError{Field: field + ".key", Message: fmt.Sprintf("key %q already declared on %q", r.Key, r.Owner), Code: ErrDuplicateKey})
		}
		if r.ReverseKey != "" && !claim(r.Related, r.ReverseKey) {
			errs = append(errs, ValidationError{Field: field + ".reverse", Message: fmt.Sprintf("key %q already declared on %q", r.ReverseKey, r.Related), Code: ErrDuplicateKey})
		}
		if r.ForeignKey != "" {
			if r.ReverseKey == "" || r.Multiplicity != OneToMany {
				errs = append(errs, ValidationError{Field: field + ".foreign_key", Message: "foreign_key requires a reciprocal one_to_many relation", Code: ErrForeignKeyScope})
			} else if !claim(r.Related, r.ForeignKey) {
				errs = append(errs, ValidationError{Field: field + ".foreign_key", Message: fmt.Sprintf("key %q already declared on %q", r.ForeignKey, r.Related), Code: ErrDuplicateKey})
			}
		}
		if r.IncludeInPayload && r.ForeignKey == "" {
			errs = append(errs, ValidationError{Field: field + ".in_payload", Message: "in_payload requires foreign_key", Code: ErrPayloadNeedsKey})
		}
	}

	actions := make(map[string]bool, len(s.Actions))
	for i, a := range s.Actions {
		field := fmt.Sprintf("action[%d]", i)
		if actions[a.Name] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("duplicate action %q", a.Name), Code: ErrDuplicateAction})
		}
		actions[a.Name] = true

		if !writeMethods[a.Method] {
			errs = append(errs, ValidationError{Field: field + ".method", Message: fmt.Sprintf("method %q is not a write method", a.Method), Code: ErrInvalidMethod})
		}
		if !strings.Contains(a.Path, "{id}") {
			errs = append(errs, ValidationError{Field: field + ".path", Message: "path must contain {id}", Code: ErrInvalidPath})
		}
		if a.Op != OpAdd && a.Op != OpRemove {
			errs = append(errs, ValidationError{Field: field + ".op", Message: fmt.Sprintf("invalid op %q", a.Op), Code: ErrInvalidOp})
		}
		if _, ok := s.Relation(a.Subject, a.Relation); !ok {
			errs = append(errs, ValidationError{Field: field + ".relation", Message: fmt.Sprintf("no relation %q on kind %q", a.Relation, a.Subject), Code: ErrUnknownRelation})
		}
	}

	return errs
}

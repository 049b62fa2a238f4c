package credential

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Credential type set every agricultural quality credential must declare
const (
	TypeVerifiableCredential = "VerifiableCredential"
	TypeAgriculturalQuality  = "AgriculturalQualityCredential"
)

// RequiredTypes is the type set checked during structural validation
var RequiredTypes = []string{TypeVerifiableCredential, TypeAgriculturalQuality}

// ErrNotAnObject is returned when a credential document is not a JSON object
var ErrNotAnObject = errors.New("credential document must be a JSON object")

// Document is an opaque credential document held in canonical form. It is
// the pass-through representation used for storage and hashing; Credential
// gives the typed view.
type Document struct {
	canonical []byte
}

// ParseDocument validates and canonicalizes raw JSON
func ParseDocument(raw []byte) (Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Document{}, ErrNotAnObject
	}
	canonical, err := Canonicalize(trimmed)
	if err != nil {
		return Document{}, err
	}
	return Document{canonical: canonical}, nil
}

// DocumentFromValue canonicalizes an in-memory credential
func DocumentFromValue(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("encode credential: %w", err)
	}
	return ParseDocument(raw)
}

// IsZero reports whether the document is empty
func (d Document) IsZero() bool {
	return len(d.canonical) == 0
}

// Bytes returns a copy of the canonical bytes
func (d Document) Bytes() []byte {
	return slices.Clone(d.canonical)
}

// Hash is the content hash of the canonical document
func (d Document) Hash() string {
	return HashBytes(d.canonical)
}

// Credential decodes the typed view of the document
func (d Document) Credential() (Credential, error) {
	var c Credential
	if d.IsZero() {
		return c, ErrNotAnObject
	}
	if err := json.Unmarshal(d.canonical, &c); err != nil {
		return c, fmt.Errorf("decode credential: %w", err)
	}
	return c, nil
}

// Fields decodes the document into a generic map
func (d Document) Fields() (map[string]any, error) {
	fields := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(d.canonical))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode credential fields: %w", err)
	}
	return fields, nil
}

// Without returns a copy of the document with the given top-level keys removed
func (d Document) Without(keys ...string) (Document, error) {
	fields, err := d.Fields()
	if err != nil {
		return Document{}, err
	}
	for _, key := range keys {
		delete(fields, key)
	}
	canonical, err := encode(fields)
	if err != nil {
		return Document{}, err
	}
	return Document{canonical: canonical}, nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return d.Bytes(), nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*d = Document{}
		return nil
	}
	parsed, err := ParseDocument(data)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores the canonical bytes
func (d Document) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return string(d.canonical), nil
}

// Scan reads a stored document
func (d *Document) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Document{}
		return nil
	case []byte:
		return d.UnmarshalJSON(v)
	case string:
		return d.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("unsupported credential document type %T", src)
	}
}

// Credential is the typed view of a W3C-style credential document
type Credential struct {
	Context           json.RawMessage `json:"@context"`
	ID                string          `json:"id"`
	Type              StringList      `json:"type"`
	Issuer            Issuer          `json:"issuer"`
	IssuanceDate      string          `json:"issuanceDate"`
	ExpirationDate    string          `json:"expirationDate,omitempty"`
	CredentialSubject map[string]any  `json:"credentialSubject"`
	Proof             map[string]any  `json:"proof,omitempty"`
}

// BatchID returns the subject's batch reference, if any
func (c Credential) BatchID() string {
	if c.CredentialSubject == nil {
		return ""
	}
	if id, ok := c.CredentialSubject["batchId"].(string); ok {
		return id
	}
	return ""
}

// StructuralProblems lists everything wrong with the document's shape.
// An empty slice means the document is structurally valid.
func (c Credential) StructuralProblems() []string {
	var problems []string
	for _, required := range RequiredTypes {
		if !slices.Contains(c.Type, required) {
			problems = append(problems, fmt.Sprintf("credential type %q is missing", required))
		}
	}
	if len(c.CredentialSubject) == 0 {
		problems = append(problems, "credentialSubject is missing or empty")
	}
	return problems
}

// StringList accepts either a JSON string or an array of strings
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("type must be a string or array of strings: %w", err)
	}
	*l = many
	return nil
}

// Issuer accepts either an issuer id string or an object with an id
type Issuer struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (i *Issuer) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*i = Issuer{ID: id}
		return nil
	}
	type plain Issuer
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("issuer must be a string or object: %w", err)
	}
	*i = Issuer(obj)
	return nil
}

func (i Issuer) MarshalJSON() ([]byte, error) {
	if i.Name == "" {
		return json.Marshal(i.ID)
	}
	type plain Issuer
	return json.Marshal(plain(i))
}

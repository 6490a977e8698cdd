package policy

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Version is the only bucket policy language version accepted by S3 stores.
const Version = "2012-10-17"

// Document is an S3 bucket policy.
type Document struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Statement is a single policy statement. Condition values are kept as
// canonical JSON arrays so documents compare independently of formatting.
type Statement struct {
	Sid          string                                `json:"Sid"`
	Effect       string                                `json:"Effect"`
	Principal    map[string][]string                   `json:"Principal,omitempty"`
	NotPrincipal map[string][]string                   `json:"NotPrincipal,omitempty"`
	Action       []string                              `json:"Action,omitempty"`
	NotAction    []string                              `json:"NotAction,omitempty"`
	Resource     []string                              `json:"Resource,omitempty"`
	NotResource  []string                              `json:"NotResource,omitempty"`
	Condition    map[string]map[string]json.RawMessage `json:"Condition,omitempty"`
}

// IsEmpty reports whether the document grants nothing. An empty document
// means "no bucket policy", which stores treat as default deny.
func (d Document) IsEmpty() bool {
	return len(d.Statement) == 0
}

// Clone returns a deep copy so transforms can never mutate a shared default.
func (d Document) Clone() Document {
	out := Document{Version: d.Version}
	for _, s := range d.Statement {
		c := Statement{
			Sid:          s.Sid,
			Effect:       s.Effect,
			Principal:    cloneLists(s.Principal),
			NotPrincipal: cloneLists(s.NotPrincipal),
			Action:       append([]string(nil), s.Action...),
			NotAction:    append([]string(nil), s.NotAction...),
			Resource:     append([]string(nil), s.Resource...),
			NotResource:  append([]string(nil), s.NotResource...),
		}
		if s.Condition != nil {
			c.Condition = make(map[string]map[string]json.RawMessage, len(s.Condition))
			for op, keys := range s.Condition {
				m := make(map[string]json.RawMessage, len(keys))
				for k, v := range keys {
					m[k] = append(json.RawMessage(nil), v...)
				}
				c.Condition[op] = m
			}
		}
		out.Statement = append(out.Statement, c)
	}
	return out
}

func cloneLists(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// PublicRead returns the anonymous read-only policy for bucket: location and
// listing on the bucket, GetObject on every key.
func PublicRead(bucket string) Document {
	everyone := func() map[string][]string { return map[string][]string{"AWS": {"*"}} }
	bucketARN := "arn:aws:s3:::" + bucket
	return Document{
		Version: Version,
		Statement: []Statement{
			{Effect: "Allow", Principal: everyone(), Action: []string{"s3:GetBucketLocation"}, Resource: []string{bucketARN}},
			{Effect: "Allow", Principal: everyone(), Action: []string{"s3:ListBucket"}, Resource: []string{bucketARN}},
			{Effect: "Allow", Principal: everyone(), Action: []string{"s3:GetObject"}, Resource: []string{bucketARN + "/*"}},
		},
	}
}

// Private returns the empty policy.
func Private() Document {
	return Document{}
}

// Marshal renders the document as the JSON string expected by SetBucketPolicy.
// The empty document renders as "" which deletes the bucket policy.
func Marshal(d Document) (string, error) {
	if d.IsEmpty() {
		return "", nil
	}
	if d.Version == "" {
		d.Version = Version
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal policy: %w", err)
	}
	return string(b), nil
}

// Parse decodes a policy JSON string. Stores return single values where the
// language allows a list (e.g. "Action": "s3:GetObject"), so both forms are
// accepted.
func Parse(raw string) (Document, error) {
	if raw == "" {
		return Document{}, nil
	}

	var loose struct {
		Version   string `json:"Version"`
		Statement []struct {
			Sid          string                                `json:"Sid"`
			Effect       string                                `json:"Effect"`
			Principal    json.RawMessage                       `json:"Principal"`
			NotPrincipal json.RawMessage                       `json:"NotPrincipal"`
			Action       json.RawMessage                       `json:"Action"`
			NotAction    json.RawMessage                       `json:"NotAction"`
			Resource     json.RawMessage                       `json:"Resource"`
			NotResource  json.RawMessage                       `json:"NotResource"`
			Condition    map[string]map[string]json.RawMessage `json:"Condition"`
		} `json:"Statement"`
	}
	if err := json.Unmarshal([]byte(raw), &loose); err != nil {
		return Document{}, fmt.Errorf("failed to parse policy: %w", err)
	}

	doc := Document{Version: loose.Version}
	for i, s := range loose.Statement {
		st := Statement{Sid: s.Sid, Effect: s.Effect}
		var err error
		if st.Action, err = stringList(s.Action); err != nil {
			return Document{}, fmt.Errorf("statement %d: action: %w", i, err)
		}
		if st.NotAction, err = stringList(s.NotAction); err != nil {
			return Document{}, fmt.Errorf("statement %d: not action: %w", i, err)
		}
		if st.Resource, err = stringList(s.Resource); err != nil {
			return Document{}, fmt.Errorf("statement %d: resource: %w", i, err)
		}
		if st.NotResource, err = stringList(s.NotResource); err != nil {
			return Document{}, fmt.Errorf("statement %d: not resource: %w", i, err)
		}
		if st.Principal, err = principalMap(s.Principal); err != nil {
			return Document{}, fmt.Errorf("statement %d: principal: %w", i, err)
		}
		if st.NotPrincipal, err = principalMap(s.NotPrincipal); err != nil {
			return Document{}, fmt.Errorf("statement %d: not principal: %w", i, err)
		}
		if st.Condition, err = conditionMap(s.Condition); err != nil {
			return Document{}, fmt.Errorf("statement %d: condition: %w", i, err)
		}
		doc.Statement = append(doc.Statement, st)
	}
	return doc, nil
}

// Equal compares two documents semantically, ignoring the single-value vs
// list encoding and an unset Version.
func Equal(a, b Document) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return a.IsEmpty() == b.IsEmpty()
	}
	na, nb := a.Clone(), b.Clone()
	if na.Version == "" {
		na.Version = Version
	}
	if nb.Version == "" {
		nb.Version = Version
	}
	for _, d := range []Document{na, nb} {
		for i := range d.Statement {
			if c, err := conditionMap(d.Statement[i].Condition); err == nil {
				d.Statement[i].Condition = c
			}
		}
	}
	return reflect.DeepEqual(na, nb)
}

func stringList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func principalMap(raw json.RawMessage) (map[string][]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var star string
	if err := json.Unmarshal(raw, &star); err == nil {
		return map[string][]string{"AWS": {star}}, nil
	}
	var loose map[string]json.RawMessage
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(loose))
	for k, v := range loose {
		list, err := stringList(v)
		if err != nil {
			return nil, err
		}
		out[k] = list
	}
	return out, nil
}

// conditionMap canonicalises condition values: a single value becomes a
// one-element array and the JSON is re-encoded without whitespace.
func conditionMap(raw map[string]map[string]json.RawMessage) (map[string]map[string]json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]map[string]json.RawMessage, len(raw))
	for op, keys := range raw {
		m := make(map[string]json.RawMessage, len(keys))
		for k, v := range keys {
			var value any
			if err := json.Unmarshal(v, &value); err != nil {
				return nil, fmt.Errorf("%s %s: %w", op, k, err)
			}
			if _, ok := value.([]any); !ok {
				value = []any{value}
			}
			canonical, err := json.Marshal(value)
			if err != nil {
				return nil, err
			}
			m[k] = canonical
		}
		out[op] = m
	}
	return out, nil
}

package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicRead(t *testing.T) {
	doc := PublicRead("docs-public")

	require.Len(t, doc.Statement, 3)
	assert.Equal(t, []string{"arn:aws:s3:::docs-public"}, doc.Statement[0].Resource)
	assert.Equal(t, []string{"s3:GetObject"}, doc.Statement[2].Action)
	assert.Equal(t, []string{"arn:aws:s3:::docs-public/*"}, doc.Statement[2].Resource)
}

func TestMarshalParseRoundTrip(t *testing.T) {
	raw, err := Marshal(PublicRead("media"))
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.True(t, Equal(PublicRead("media"), parsed))
}

func TestMarshalEmpty(t *testing.T) {
	raw, err := Marshal(Private())
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestParseSingleValues(t *testing.T) {
	// Stores collapse one-element lists into plain strings.
	raw := `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":"*","Action":"s3:GetObject","Resource":"arn:aws:s3:::media/*"}]}`

	doc, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, doc.Statement, 1)
	assert.Equal(t, map[string][]string{"AWS": {"*"}}, doc.Statement[0].Principal)
	assert.Equal(t, []string{"s3:GetObject"}, doc.Statement[0].Action)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("{not json")
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Private(), Document{}))
	assert.False(t, Equal(Private(), PublicRead("a")))
	assert.False(t, Equal(PublicRead("a"), PublicRead("b")))

	noVersion := PublicRead("a")
	noVersion.Version = ""
	assert.True(t, Equal(noVersion, PublicRead("a")))
}

func TestTransformApply(t *testing.T) {
	def := PublicRead("media")
	var hook Transform = func(d Document) Document {
		d.Statement = d.Statement[2:]
		return d
	}

	out, applied := hook.Apply(def)
	assert.True(t, applied)
	assert.Len(t, out.Statement, 1)
	// The default is untouched.
	assert.Len(t, def.Statement, 3)

	var none Transform
	out, applied = none.Apply(def)
	assert.False(t, applied)
	assert.Equal(t, def, out)
}

func TestReplaceAndMerge(t *testing.T) {
	base := Registry{"a": Replace(Private())}
	merged := base.Merge(Registry{"a": Replace(PublicRead("a")), "b": Replace(Private())})

	assert.Len(t, merged, 2)
	out, _ := merged["a"].Apply(Private())
	assert.True(t, Equal(PublicRead("a"), out))
	assert.Len(t, base, 1)
}

const conditionalPolicy = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::docs-private/*"],"Condition":{"IpAddress":{"aws:SourceIp":"10.0.0.0/8"}}}]}`

func TestConditionRoundTrip(t *testing.T) {
	doc, err := Parse(conditionalPolicy)
	require.NoError(t, err)
	require.Len(t, doc.Statement, 1)
	require.Contains(t, doc.Statement[0].Condition, "IpAddress")
	assert.JSONEq(t, `["10.0.0.0/8"]`, string(doc.Statement[0].Condition["IpAddress"]["aws:SourceIp"]))

	raw, err := Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, raw, `"Condition":{"IpAddress":{"aws:SourceIp":["10.0.0.0/8"]}}`)

	again, err := Parse(raw)
	require.NoError(t, err)
	assert.True(t, Equal(doc, again))
}

func TestConditionEquality(t *testing.T) {
	doc, err := Parse(conditionalPolicy)
	require.NoError(t, err)

	// A hand-built statement with a scalar value matches the parsed list form.
	built := PublicRead("docs-private")
	built.Statement = built.Statement[2:]
	built.Statement[0].Condition = map[string]map[string]json.RawMessage{
		"IpAddress": {"aws:SourceIp": json.RawMessage(`"10.0.0.0/8"`)},
	}
	assert.True(t, Equal(doc, built))

	other := doc.Clone()
	other.Statement[0].Condition["IpAddress"]["aws:SourceIp"] = json.RawMessage(`["192.168.0.0/16"]`)
	assert.False(t, Equal(doc, other))

	// Dropping the condition widens access and must not compare equal.
	widened := doc.Clone()
	widened.Statement[0].Condition = nil
	assert.False(t, Equal(doc, widened))
}

func TestParseNotClauses(t *testing.T) {
	raw := `{"Version":"2012-10-17","Statement":[{"Effect":"Deny","NotPrincipal":{"AWS":"arn:aws:iam::1:root"},"NotAction":"s3:GetObject","NotResource":"arn:aws:s3:::media/public/*"}]}`

	doc, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, doc.Statement, 1)
	st := doc.Statement[0]
	assert.Equal(t, map[string][]string{"AWS": {"arn:aws:iam::1:root"}}, st.NotPrincipal)
	assert.Equal(t, []string{"s3:GetObject"}, st.NotAction)
	assert.Equal(t, []string{"arn:aws:s3:::media/public/*"}, st.NotResource)
	assert.Nil(t, st.Principal)

	out, err := Marshal(doc)
	require.NoError(t, err)
	assert.NotContains(t, out, `"Principal"`)
	assert.Contains(t, out, `"NotPrincipal"`)

	again, err := Parse(out)
	require.NoError(t, err)
	assert.True(t, Equal(doc, again))
}

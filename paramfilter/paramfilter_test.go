package paramfilter_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniapm/miniapm-go/paramfilter"
)

func TestFilter_DefaultKeys(t *testing.T) {
	f := paramfilter.Default()

	out := f.Filter(map[string]any{
		"name":         "john",
		"password":     "secret",
		"api_key":      "k",
		"access_token": "t",
	})

	assert.Equal(t, "john", out["name"])
	assert.Equal(t, "[FILTERED]", out["password"])
	assert.Equal(t, "[FILTERED]", out["api_key"])
	assert.Equal(t, "[FILTERED]", out["access_token"])
}

func TestFilter_NestedMappingsAndSequences(t *testing.T) {
	f := paramfilter.Default()

	out := f.Filter(map[string]any{
		"user": map[string]any{
			"name":     "john",
			"password": "secret",
			"settings": map[string]any{"token": "abc"},
		},
		"users": []any{
			map[string]any{"password": "a"},
			map[string]any{"password": "b"},
		},
	})

	user := out["user"].(map[string]any)
	assert.Equal(t, "john", user["name"])
	assert.Equal(t, "[FILTERED]", user["password"])
	assert.Equal(t, "[FILTERED]", user["settings"].(map[string]any)["token"])

	users := out["users"].([]any)
	require.Len(t, users, 2)
	assert.Equal(t, "[FILTERED]", users[0].(map[string]any)["password"])
	assert.Equal(t, "[FILTERED]", users[1].(map[string]any)["password"])
}

func TestFilter_CaseInsensitiveSubstring(t *testing.T) {
	f := paramfilter.New("password")

	out := f.Filter(map[string]any{
		"PASSWORD":        "a",
		"user_password":   "b",
		"password_digest": "c",
		"unrelated":       "keep",
	})

	assert.Equal(t, "[FILTERED]", out["PASSWORD"])
	assert.Equal(t, "[FILTERED]", out["user_password"])
	assert.Equal(t, "[FILTERED]", out["password_digest"])
	assert.Equal(t, "keep", out["unrelated"])
}

func TestFilter_RegexpPattern(t *testing.T) {
	f := paramfilter.New(regexp.MustCompile(`^card_`))

	out := f.Filter(map[string]any{
		"card_number": "4111",
		"cardinality": 3,
	})

	assert.Equal(t, "[FILTERED]", out["card_number"])
	assert.Equal(t, 3, out["cardinality"])
}

func TestFilter_DepthCap(t *testing.T) {
	f := paramfilter.Default()

	deep := map[string]any{"leaf": "v"}
	for range 15 {
		deep = map[string]any{"nested": deep}
	}

	out := f.Filter(deep)

	// Walk to depth 9; the next level must be the truncation marker.
	cursor := out
	for range 9 {
		next, ok := cursor["nested"].(map[string]any)
		require.True(t, ok)
		cursor = next
	}
	assert.Equal(t, map[string]any{"__truncated__": "max depth exceeded"}, cursor["nested"])
}

func TestFilter_SequenceCappedAt100(t *testing.T) {
	f := paramfilter.Default()

	seq := make([]any, 150)
	for i := range seq {
		seq[i] = i
	}

	out := f.Filter(map[string]any{"items": seq})

	assert.Len(t, out["items"].([]any), 100)
}

func TestFilter_NilInput(t *testing.T) {
	assert.Nil(t, paramfilter.Default().Filter(nil))
}

func TestFilter_DoesNotMutateInput(t *testing.T) {
	f := paramfilter.Default()
	in := map[string]any{"password": "secret", "nested": map[string]any{"token": "t"}}

	_ = f.Filter(in)

	assert.Equal(t, "secret", in["password"])
	assert.Equal(t, "t", in["nested"].(map[string]any)["token"])
}

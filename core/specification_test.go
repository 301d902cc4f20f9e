package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecificationMerge(t *testing.T) {
	a := NewSpecification("A", "d1", 1, Extras{"x": 1})
	b := NewSpecification("B", "d2", 2, Extras{"x": 2, "y": 3})

	m := a.Merge(b)

	assert.Equal(t, Extras{"x": 1, "y": 3}, m.Extras)
	assert.Equal(t, "A", m.Name)
	assert.Equal(t, "d1", m.Description)
	assert.Equal(t, int64(1), m.Timestamp)

	// Neither input changed.
	assert.Equal(t, Extras{"x": 1}, a.Extras)
	assert.Equal(t, Extras{"x": 2, "y": 3}, b.Extras)
}

func TestSpecificationMergeEmpty(t *testing.T) {
	m := NewSpecification("A", "d", 1, nil).Merge(Specification{})
	assert.Nil(t, m.Extras)
}

func TestSpecificationEmpty(t *testing.T) {
	tests := []struct {
		description string
		spec        Specification
		empty       bool
	}{
		{"zero", Specification{}, true},
		{"timestamp only", Specification{Timestamp: 10}, true},
		{"extras only", Specification{Extras: Extras{"attempts": []interface{}{}}}, true},
		{"name and description", NewSpecification("a", "b", 0, nil), false},
		{"name only", Specification{Name: "a"}, false},
		{"description only", Specification{Description: "b"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			assert.Equal(t, tc.empty, tc.spec.Empty())
			assert.Equal(t, !tc.empty, tc.spec.Defined())
		})
	}
}

func TestSpecificationEqual(t *testing.T) {
	a := NewSpecification("A", "one", 10, Extras{"x": 1})
	b := NewSpecification("A", "two", 10, nil)
	c := NewSpecification("A", "one", 11, Extras{"x": 1})
	d := NewSpecification("B", "one", 10, Extras{"x": 1})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
}

func TestSpecificationJSON(t *testing.T) {
	s := NewSpecification("start", "Started", 1500000000, nil)
	js, err := s.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"start","description":"Started","timestamp":1500000000}`, js)

	back, err := FromJSON(js)
	require.NoError(t, err)
	assert.True(t, back.Equal(s))
	assert.Nil(t, back.Extras)

	s = s.WithAttempt("middle", 1500000001)
	js, err = s.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, js, `"extras"`)

	back, err = FromJSON(js)
	require.NoError(t, err)
	assert.True(t, back.Equal(s))
	assert.Equal(t, []Attempt{{Count: 1, Timestamp: 1500000001, Name: "middle"}}, back.Attempts())
}

func TestSpecificationFromJSONMalformed(t *testing.T) {
	_, err := FromJSON(`{"name":`)
	assert.Error(t, err)
}

func TestSpecificationRecords(t *testing.T) {
	s := NewSpecification("a", "A", 1, Extras{"likes": "tacos"})
	s = s.WithAttempt("b", 2)

	// Simulate a round trip, which turns the records into
	// []interface{} of map[string]interface{}.
	js, err := s.ToJSON()
	require.NoError(t, err)
	s, err = FromJSON(js)
	require.NoError(t, err)

	s2 := s.WithAttempt("b", 3)

	require.Len(t, s.Attempts(), 1, "original disturbed")
	attempts := s2.Attempts()
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].Count)
	assert.Equal(t, 2, attempts[1].Count)
	assert.Equal(t, int64(3), attempts[1].Timestamp)
	assert.Equal(t, "tacos", s2.Extras["likes"])

	s3 := s2.WithLog("a", 4, "ok").WithLog("a", 5, false)
	log := s3.Log()
	require.Len(t, log, 2)
	assert.Equal(t, "ok", log[0].Result)
	assert.Equal(t, false, log[1].Result)
	assert.Equal(t, 2, log[1].Count)
	assert.Len(t, s3.Attempts(), 2)
}

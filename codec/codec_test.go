package codec

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTripsScalars(t *testing.T) {
	tests := []struct {
		name  string
		value any
		dst   any
	}{
		{name: "int", value: 42, dst: new(int)},
		{name: "string", value: "hello", dst: new(string)},
		{name: "float", value: 3.5, dst: new(float64)},
		{name: "bool", value: true, dst: new(bool)},
		{name: "slice of ints", value: []int{1, 2, 3}, dst: new([]int)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.value)
			require.NoError(t, err)

			err = Decode(encoded, tt.dst)
			require.NoError(t, err)

			got := derefAny(tt.dst)
			assert.Equal(t, tt.value, got)
		})
	}
}

func derefAny(v any) any {
	switch p := v.(type) {
	case *int:
		return *p
	case *string:
		return *p
	case *float64:
		return *p
	case *bool:
		return *p
	case *[]int:
		return *p
	}
	return nil
}

func TestEncodeDecode_RoundTripsUUID(t *testing.T) {
	id := uuid.New()

	encoded, err := Encode(id)
	require.NoError(t, err)

	var got uuid.UUID
	require.NoError(t, Decode(encoded, &got))
	assert.Equal(t, id, got)
}

func TestEncodeDecode_RoundTripsDuration(t *testing.T) {
	d := Duration(90 * time.Second.Seconds())

	encoded, err := Encode(d)
	require.NoError(t, err)

	var got Duration
	require.NoError(t, Decode(encoded, &got))
	assert.InDelta(t, float64(d), float64(got), 1e-9)
}

func TestEncodeDecode_RoundTripsDependencyRef(t *testing.T) {
	ref := DependencyRef(uuid.New())

	encoded, err := Encode(ref)
	require.NoError(t, err)

	var got DependencyRef
	require.NoError(t, Decode(encoded, &got))
	assert.Equal(t, ref, got)
}

func TestEncodeDecode_RoundTripsDependencyRefTuple(t *testing.T) {
	refs := DependencyRefs{uuid.New(), uuid.New(), uuid.New()}

	encoded, err := Encode(refs)
	require.NoError(t, err)

	var got DependencyRefs
	require.NoError(t, Decode(encoded, &got))
	assert.Equal(t, refs, got)
}

func TestEncodeDecode_MapWithNonStringKeys(t *testing.T) {
	m := map[int]string{0: "a", 1: "b"}

	encoded, err := Encode(m)
	require.NoError(t, err)

	got := map[int]string{}
	require.NoError(t, Decode(encoded, &got))
	assert.Equal(t, m, got)
}

type samplePayload struct {
	Name  string
	Count int
	Tags  []string
}

func TestEntity_RoundTripsByDeclarationIndex(t *testing.T) {
	original := samplePayload{Name: "job", Count: 3, Tags: []string{"x", "y"}}

	encoded, err := EncodeEntity(original)
	require.NoError(t, err)

	var got samplePayload
	require.NoError(t, DecodeEntity(encoded, &got))
	assert.Equal(t, original, got)
}

func TestEntity_EmptyBytesYieldsZeroValue(t *testing.T) {
	var got samplePayload
	require.NoError(t, DecodeEntity(nil, &got))
	assert.Equal(t, samplePayload{}, got)
}

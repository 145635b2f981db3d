package nfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBySetting_DuplicateKeyRejected(t *testing.T) {
	_, err := NewBySetting([]DefaultValue{
		{Name: "X", Value: "1", Tier: TierAny, DataCenter: DataCenterAny},
		{Name: "X", Value: "2", Tier: TierAny, DataCenter: DataCenterAny},
	})
	assert.Error(t, err)
}

func TestBySetting_GetAndKeys(t *testing.T) {
	b, err := NewBySetting([]DefaultValue{
		{Name: "B", Value: "2", Tier: TierAny, DataCenter: DataCenterAny},
		{Name: "A", Value: "1", Tier: TierAny, DataCenter: DataCenterAny},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, b.Keys())

	v, ok := b.Get("A")
	require.True(t, ok)
	assert.Equal(t, "1", v.Value)

	_, ok = b.Get("Missing")
	assert.False(t, ok)
}

func TestListBySetting_CoalescesRunsInInsertionOrder(t *testing.T) {
	l := NewListBySetting([]OverrideValue{
		{Name: "X", Value: "1"},
		{Name: "Y", Value: "a"},
		{Name: "X", Value: "2"},
	})

	assert.Equal(t, []string{"X", "Y"}, l.Keys())
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, 3, l.Count())

	xs := l.GetAll("X")
	require.Len(t, xs, 2)
	assert.Equal(t, "1", xs[0].Value)
	assert.Equal(t, "2", xs[1].Value)

	assert.Empty(t, l.GetAll("Z"))
}

func TestListBySetting_ToSliceRoundTrip(t *testing.T) {
	items := []OverrideValue{
		{Name: "B", Value: "1"},
		{Name: "A", Value: "2"},
	}
	l := NewListBySetting(items)
	flat := l.ToSlice()
	require.Len(t, flat, 2)
	assert.Equal(t, "A", flat[0].Name)
	assert.Equal(t, "B", flat[1].Name)
}

func TestWithReplaced_ReplacesMatchingRunEntryOnly(t *testing.T) {
	l := NewListBySetting([]OverrideValue{
		{Name: "X", Value: "1", DataCenter: DataCenterAny},
		{Name: "X", Value: "west", DataCenter: DataCenterWest},
		{Name: "Y", Value: "unrelated", DataCenter: DataCenterAny},
	})

	next := WithReplaced(l, "X", OverrideValue{Name: "X", Value: "2", DataCenter: DataCenterAny}, func(existing OverrideValue) bool {
		return existing.SameIdentity(OverrideValue{Name: "X", DataCenter: DataCenterAny})
	})

	xs := next.GetAll("X")
	require.Len(t, xs, 2)
	for _, x := range xs {
		if x.DataCenter.Ordinal() == DataCenterAny.Ordinal() {
			assert.Equal(t, "2", x.Value)
		} else {
			assert.Equal(t, "west", x.Value)
		}
	}
	assert.Equal(t, []OverrideValue{{Name: "Y", Value: "unrelated", DataCenter: DataCenterAny}}, next.GetAll("Y"))
}

func TestWithRemoved_ReportsWhetherAnythingMatched(t *testing.T) {
	l := NewListBySetting([]OverrideValue{
		{Name: "X", Value: "1", DataCenter: DataCenterAny},
		{Name: "Y", Value: "unrelated", DataCenter: DataCenterAny},
	})

	next, removed := WithRemoved(l, "X", func(existing OverrideValue) bool {
		return existing.SameIdentity(OverrideValue{Name: "X", DataCenter: DataCenterAny})
	})
	assert.True(t, removed)
	assert.Empty(t, next.GetAll("X"))
	assert.Len(t, next.GetAll("Y"), 1)

	_, removedAgain := WithRemoved(next, "X", func(existing OverrideValue) bool {
		return existing.SameIdentity(OverrideValue{Name: "X", DataCenter: DataCenterAny})
	})
	assert.False(t, removedAgain)
}

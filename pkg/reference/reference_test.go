package reference_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"odmcore/pkg/mapping"
	"odmcore/pkg/reference"
)

func authors(ids ...string) []any {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, &Author{ID: id, Name: "author " + id})
	}
	return out
}

func TestListResolvesOnce(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)
	src.add("authors", authors("a", "b", "c")...)

	list := reference.ListOf[*Author](reference.Bare("a"), reference.Bare("b"), reference.Bare("c"))
	require.False(t, list.IsResolved())

	first, err := list.Get(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.True(t, list.IsResolved())

	for i := 0; i < 5; i++ {
		again, err := list.Get(context.Background(), src)
		require.NoError(t, err)
		require.Same(t, &first[0], &again[0])
	}
	require.Equal(t, 1, src.total())
}

func TestSingleResolvesOnce(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)
	src.add("authors", authors("a")...)

	ref := reference.RefTo[*Author](reference.Bare("a"))
	got, ok, err := ref.Get(context.Background(), src)
	require.NoError(t, err)
	require.True(t, ok)
	again, _, err := ref.Get(context.Background(), src)
	require.NoError(t, err)
	require.Same(t, got, again)
	require.Equal(t, 1, src.total())
}

func TestListPreservesOrderAndSkipsMissing(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)
	src.add("authors", authors("d", "c", "a")...)

	list := reference.ListOf[*Author](
		reference.Bare("a"), reference.Bare("b"), reference.Bare("c"), reference.Bare("d"),
	)
	got, err := list.Get(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []string{"a", "c", "d"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestMapPreservesKeysAndDropsMissing(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)
	src.add("authors", authors("a", "c")...)

	mr := reference.MapOf[*Author](map[string]reference.ID{
		"x": reference.Bare("a"),
		"y": reference.Bare("b"),
		"z": reference.Bare("c"),
	})
	got, err := mr.Get(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got["x"].ID)
	require.Equal(t, "c", got["z"].ID)
	_, present := got["y"]
	require.False(t, present)
	require.Equal(t, []string{"x", "z"}, mr.Keys())
	require.Equal(t, 1, src.total())
}

func TestListBatchesByCollection(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)
	src.add("circles", &Circle{ID: "c1", Radius: 1}, &Circle{ID: "c2", Radius: 2}, &Circle{ID: "c3", Radius: 3})
	src.add("squares", &Square{ID: 1, Side: 1}, &Square{ID: 2, Side: 2})

	list := reference.ListOf[Shape](
		reference.Qualified("circles", "c1"),
		reference.Qualified("squares", int64(1)),
		reference.Qualified("circles", "c2"),
		reference.Qualified("squares", int64(2)),
		reference.Qualified("circles", "c3"),
	)
	got, err := list.Get(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, 2, src.total())
	require.Equal(t, 1, src.queries["circles"])
	require.Equal(t, 1, src.queries["squares"])

	require.IsType(t, &Circle{}, got[0])
	require.IsType(t, &Square{}, got[1])
	require.Equal(t, "c3", got[4].(*Circle).ID)
}

func TestConcurrentResolutionMatchesSequential(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)
	src.parallel = true
	src.add("circles", &Circle{ID: "c1"}, &Circle{ID: "c2"})
	src.add("squares", &Square{ID: 9})

	list := reference.ListOf[Shape](
		reference.Qualified("squares", 9),
		reference.Qualified("circles", "c2"),
		reference.Qualified("circles", "c1"),
	)
	got, err := list.Get(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, int64(9), got[0].(*Square).ID)
	require.Equal(t, "c2", got[1].(*Circle).ID)
	require.Equal(t, 2, src.total())
}

func TestDecodeResolveEncodeRoundTrip(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)
	src.add("authors", authors("a", "b", "c")...)
	src.add("circles", &Circle{ID: "c1"})
	src.add("squares", &Square{ID: 4})

	original := &Book{
		ID:        "b1",
		Title:     "Shapes of Things",
		Author:    reference.NewRef(&Author{ID: "a"}),
		Coauthors: reference.NewList(&Author{ID: "b"}, &Author{ID: "c"}),
		Shapes:    reference.NewList[Shape](&Circle{ID: "c1"}, &Square{ID: 4}),
		Editors:   reference.NewMap(map[string]*Author{"first": {ID: "a"}, "second": {ID: "c"}}),
	}
	var decoded Book
	stored := storeRoundTrip(t, m, original, &decoded)
	require.Equal(t, "a", stored["author"])
	require.Equal(t, []any{"b", "c"}, stored["coauthors"])
	require.False(t, decoded.Author.IsResolved())
	require.False(t, decoded.Shapes.IsResolved())

	ctx := context.Background()
	_, _, err := decoded.Author.Get(ctx, src)
	require.NoError(t, err)
	_, err = decoded.Coauthors.Get(ctx, src)
	require.NoError(t, err)
	shapes, err := decoded.Shapes.Get(ctx, src)
	require.NoError(t, err)
	require.Len(t, shapes, 2)
	_, err = decoded.Editors.Get(ctx, src)
	require.NoError(t, err)

	var again Book
	storeRoundTrip(t, m, &decoded, &again)

	wantIDs, err := original.Shapes.IDs(m)
	require.NoError(t, err)
	gotIDs, err := again.Shapes.IDs(m)
	require.NoError(t, err)
	require.Equal(t, keys(wantIDs), keys(gotIDs))
	require.True(t, gotIDs[0].IsQualified())
	require.Equal(t, "circles", gotIDs[0].Collection())

	wantEditors, err := original.Editors.IDs(m)
	require.NoError(t, err)
	gotEditors, err := again.Editors.IDs(m)
	require.NoError(t, err)
	require.Len(t, gotEditors, len(wantEditors))
	for k, id := range wantEditors {
		require.Equal(t, id.Key(), gotEditors[k].Key())
	}

	authorID, ok, err := again.Author.ID(m)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", authorID.Value())
}

func keys(ids []reference.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func TestUnresolvedEncodeIsNilAndDoesNotFetch(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)

	ref := reference.RefTo[*Author](reference.Bare("a"))
	list := reference.ListOf[*Author](reference.Bare("a"))
	mr := reference.MapOf[*Author](map[string]reference.ID{"k": reference.Bare("a")})

	for _, enc := range []func(*mapping.Mapper) (any, error){ref.Encode, list.Encode, mr.Encode} {
		got, err := enc(m)
		require.NoError(t, err)
		require.Nil(t, got)
	}
	require.Zero(t, src.total())
	require.False(t, ref.IsResolved())
}

func TestUnresolvedMarshalKeepsStoredIDs(t *testing.T) {
	m := newMapper(t)
	var book Book
	require.NoError(t, m.Decode(mapping.Document{
		"_id":       "b1",
		"author":    "a",
		"coauthors": []any{"a", map[string]any{"$ref": "authors", "$id": "b"}},
	}, &book))

	doc, err := m.Encode(&book)
	require.NoError(t, err)
	require.Equal(t, "a", doc["author"])
	require.Equal(t, []any{"a", map[string]any{"$ref": "authors", "$id": "b"}}, doc["coauthors"])
	_, present := doc["editors"]
	require.False(t, present)
}

func TestSingleMissingTargetIsAbsent(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)

	ref := reference.RefTo[*Author](reference.Bare("ghost"))
	got, ok, err := ref.Get(context.Background(), src)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, got)
	require.True(t, ref.IsResolved())

	enc, err := ref.Encode(m)
	require.NoError(t, err)
	require.Nil(t, enc)
}

func TestEmptyReferencesDoNotQuery(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)

	var ref reference.Ref[*Author]
	_, ok, err := ref.Get(context.Background(), src)
	require.NoError(t, err)
	require.False(t, ok)

	var list reference.List[*Author]
	got, err := list.Get(context.Background(), src)
	require.NoError(t, err)
	require.Empty(t, got)

	var mr reference.Map[*Author]
	vals, err := mr.Get(context.Background(), src)
	require.NoError(t, err)
	require.Empty(t, vals)
	require.Zero(t, src.total())
}

func TestQueryFailurePropagatesAndLeavesHandleUnresolved(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)
	src.add("authors", authors("a")...)
	src.failWith = errBackend

	list := reference.ListOf[*Author](reference.Bare("a"))
	_, err := list.Get(context.Background(), src)
	require.ErrorIs(t, err, errBackend)
	require.False(t, list.IsResolved())

	src.failWith = nil
	got, err := list.Get(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestCursorClosedWhenIterationFails(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)
	src.add("authors", authors("a", "b", "c")...)
	src.failWith = errBackend
	src.breakAt = 1

	list := reference.ListOf[*Author](reference.Bare("a"), reference.Bare("b"), reference.Bare("c"))
	_, err := list.Get(context.Background(), src)
	require.ErrorIs(t, err, errBackend)
	require.Len(t, src.cursors, 1)
	require.True(t, src.cursors[0].Closed())
}

func TestCursorClosedAfterSuccess(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)
	src.add("circles", &Circle{ID: "c1"})
	src.add("squares", &Square{ID: 1})

	mr := reference.MapOf[Shape](map[string]reference.ID{
		"round":  reference.Qualified("circles", "c1"),
		"square": reference.Qualified("squares", 1),
	})
	_, err := mr.Get(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, src.cursors, 2)
	for _, c := range src.cursors {
		require.True(t, c.Closed())
	}
}

func TestBareIDOverUnmappedInterfaceFailsAtResolution(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)

	list := reference.ListOf[Shape](reference.Bare("c1"))
	_, err := list.Get(context.Background(), src)
	require.ErrorIs(t, err, reference.ErrUnmappedElement)
	require.Zero(t, src.total())

	require.NoError(t, m.MapInterface(reflect.TypeFor[Shape](), "circles"))
	src.add("circles", &Circle{ID: "c1"})
	list = reference.ListOf[Shape](reference.Bare("c1"))
	got, err := list.Get(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestListEncodeReflectsMutation(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)
	src.add("authors", authors("a", "b")...)

	list := reference.ListOf[*Author](reference.Bare("a"), reference.Bare("b"))
	got, err := list.Get(context.Background(), src)
	require.NoError(t, err)
	list.Set(append(got, &Author{ID: "z"}))

	enc, err := list.Encode(m)
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b", "z"}, enc)
}

func TestMapTypeUnsupported(t *testing.T) {
	var mr reference.Map[*Author]
	_, err := mr.Type()
	require.ErrorIs(t, err, reference.ErrUnsupported)

	var ref reference.Ref[*Author]
	typ, err := ref.Type()
	require.NoError(t, err)
	require.Equal(t, reflect.TypeFor[*Author](), typ)

	var list reference.List[Shape]
	typ, err = list.Type()
	require.NoError(t, err)
	require.Equal(t, reflect.TypeFor[[]Shape](), typ)
}

func TestMapIDsDerivedFromValuesRedecode(t *testing.T) {
	m := newMapper(t)
	mr := reference.NewMap(map[string]Shape{
		"b": &Square{ID: 2},
		"a": &Circle{ID: "c"},
	})
	ids, err := mr.IDs(m)
	require.NoError(t, err)
	require.Equal(t, "circles", ids["a"].Collection())
	require.Equal(t, "squares", ids["b"].Collection())

	wire, err := mr.MarshalReference(m)
	require.NoError(t, err)
	var back reference.Map[Shape]
	require.NoError(t, back.UnmarshalReference(m, wire))
	require.Equal(t, []string{"a", "b"}, back.Keys())
	backIDs, err := back.IDs(m)
	require.NoError(t, err)
	for k, id := range ids {
		require.Equal(t, id.String(), backIDs[k].String())
	}
}

func TestDecodeRejectsWrongShapes(t *testing.T) {
	m := newMapper(t)
	cases := []struct {
		name string
		doc  mapping.Document
	}{
		{"single stored as list", mapping.Document{"author": []any{"a"}}},
		{"list stored as scalar", mapping.Document{"coauthors": "a"}},
		{"map stored as list", mapping.Document{"editors": []any{"a"}}},
		{"map stored as pointer", mapping.Document{"editors": map[string]any{"$ref": "authors", "$id": "a"}}},
		{"list element is a bad object", mapping.Document{"coauthors": []any{map[string]any{"x": 1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var b Book
			err := m.Decode(tc.doc, &b)
			require.ErrorIs(t, err, reference.ErrShapeMismatch)
		})
	}
}

func TestMapRejectsDollarKeys(t *testing.T) {
	m := newMapper(t)
	mr := reference.NewMap(map[string]*Author{"$ref": {ID: "a"}})
	_, err := mr.Encode(m)
	require.ErrorIs(t, err, reference.ErrShapeMismatch)
	_, err = mr.MarshalReference(m)
	require.ErrorIs(t, err, reference.ErrShapeMismatch)

	unresolved := reference.MapOf[*Author](map[string]reference.ID{"$meta": reference.Bare("a")})
	_, err = unresolved.MarshalReference(m)
	require.ErrorIs(t, err, reference.ErrShapeMismatch)

	var back reference.Map[*Author]
	err = back.UnmarshalReference(m, map[string]any{"$meta": "a"})
	require.ErrorIs(t, err, reference.ErrShapeMismatch)
}

func TestTypeMismatchIsReported(t *testing.T) {
	m := newMapper(t)
	src := newCountingSource(m)
	src.add("circles", &Circle{ID: "x"})

	ref := reference.RefTo[*Author](reference.Qualified("circles", "x"))
	_, _, err := ref.Get(context.Background(), src)
	require.ErrorIs(t, err, reference.ErrTypeMismatch)
}

package versioning

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/chronicle/internal/entities"
	"github.com/asakaida/chronicle/internal/repositories"
)

func TestEngine_LatestIsUniquePerLineage(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	a := create(t, e, "project", map[string]interface{}{"name": "A"})
	b := create(t, e, "project", map[string]interface{}{"name": "B"})

	assertOneLatest := func() {
		for _, r := range []*entities.Record{a, b} {
			n, err := repo.Count(ctx, Latest(AllVersionsOf(r)))
			require.NoError(t, err)
			assert.Equal(t, 1, n, "lineage %d", r.LineageID)
		}
		n, err := repo.Count(ctx, Latest(repositories.NewQuery("project")))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}

	assertOneLatest()
	for i := 0; i < 3; i++ {
		_, err := e.Save(ctx, a)
		require.NoError(t, err)
		assertOneLatest()
	}
	assert.Equal(t, 4, a.Version)
	assert.Equal(t, 5, countRows(t, repo, "project"))
}

func TestEngine_CreateAttachesLineage(t *testing.T) {
	e, _ := newTestEngine(t)

	a := create(t, e, "project", map[string]interface{}{"name": "A"})
	assert.NotZero(t, a.ID)
	assert.Equal(t, a.ID, a.LineageID)
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, entities.VersionTypeNormal, a.VersionType)
	assert.Equal(t, "A", a.Get("name"))
}

func TestEngine_NewVersionLeavesCurrentUntouched(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	a := create(t, e, "project", map[string]interface{}{"name": "A", "tags": []interface{}{"x"}})
	before := e.Snapshot(a)

	v2, err := e.NewVersion(ctx, a, &Overrides{Attributes: map[string]interface{}{"name": "B"}})
	require.NoError(t, err)

	assert.Equal(t, a.Version+1, v2.Version)
	assert.Equal(t, a.LineageID, v2.LineageID)
	assert.NotEqual(t, a.ID, v2.ID)
	assert.Equal(t, "B", v2.Get("name"))
	assert.Equal(t, []interface{}{"x"}, v2.Get("tags"))
	assert.Equal(t, before, a)

	latest, err := e.IsLatest(ctx, a)
	require.NoError(t, err)
	assert.False(t, latest)
}

func TestEngine_SnapshotIsDetached(t *testing.T) {
	e, _ := newTestEngine(t)

	a := create(t, e, "project", map[string]interface{}{"meta": map[string]interface{}{"k": "v"}})
	snap := e.Snapshot(a)
	snap.Get("meta").(map[string]interface{})["k"] = "changed"
	snap.SetRef("owner", 9)

	assert.Equal(t, "v", a.Get("meta").(map[string]interface{})["k"])
	_, ok := a.Ref("owner")
	assert.False(t, ok)
}

func TestEngine_ReadOnlyVersion(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	a1 := create(t, e, "project", map[string]interface{}{"name": "A"})
	_, err := e.NewVersion(ctx, a1, nil)
	require.NoError(t, err)
	rows := countRows(t, repo, "project")

	t.Run("異常系: 過去のバージョンから新バージョン", func(t *testing.T) {
		_, err := e.NewVersion(ctx, a1, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrReadOnlyVersion), "got %v", err)
		assert.Equal(t, rows, countRows(t, repo, "project"))
	})

	t.Run("異常系: 過去のバージョンの保存", func(t *testing.T) {
		stale := a1.Clone()
		stale.Set("name", "stale")
		_, err := e.Save(ctx, stale)
		assert.True(t, errors.Is(err, ErrReadOnlyVersion), "got %v", err)
		assert.Equal(t, a1.ID, stale.ID)
		assert.Equal(t, rows, countRows(t, repo, "project"))
	})

	t.Run("異常系: 過去のバージョンの削除", func(t *testing.T) {
		err := e.Destroy(ctx, a1.Clone())
		assert.True(t, errors.Is(err, ErrReadOnlyVersion), "got %v", err)
	})
}

func TestEngine_CascadingCopy(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	a1 := create(t, e, "project", map[string]interface{}{"name": "A"})
	b1 := link(t, e, a1, "documents", entities.NewRecord("document", map[string]interface{}{"title": "B"}))
	require.Equal(t, 1, b1.Version)

	a2, err := e.NewVersion(ctx, a1, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, a2.Version)

	docs := related(t, e, a2, "documents")
	require.Len(t, docs, 1)
	b2 := docs[0]
	assert.Equal(t, 2, b2.Version)
	assert.Equal(t, b1.LineageID, b2.LineageID)
	assert.Equal(t, "B", b2.Get("title"))
	ref, _ := b2.Ref("project")
	assert.Equal(t, a2.ID, ref)

	assert.Equal(t, []int64{b1.ID}, recordIDs(related(t, e, a1, "documents")))

	latest, err := e.IsLatest(ctx, b1)
	require.NoError(t, err)
	assert.False(t, latest)
	latest, err = e.IsLatest(ctx, b2)
	require.NoError(t, err)
	assert.True(t, latest)

	t.Run("正常系: 全バージョンのシャドウ関連", func(t *testing.T) {
		a, err := e.Association(a2, "documents_versions")
		require.NoError(t, err)
		assert.Equal(t, Ignored, a.Classification().Class)
		all, err := a.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{b2.ID}, recordIDs(all))

		versions, err := a.AllVersions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{b2.ID}, recordIDs(versions))
	})

	assert.Equal(t, 2, countRows(t, repo, "document"))
}

func TestEngine_UnversionedRelationship(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	a1 := create(t, e, "project", map[string]interface{}{"name": "A"})
	c1 := link(t, e, a1, "notes", entities.NewRecord("note", map[string]interface{}{"body": "C"}))
	require.NotZero(t, c1.ID)
	assert.Zero(t, c1.Version)
	assert.Zero(t, c1.LineageID)

	a2, err := e.NewVersion(ctx, a1, nil)
	require.NoError(t, err)

	notes := related(t, e, a2, "notes")
	require.Len(t, notes, 1)
	assert.Equal(t, c1.ID, notes[0].ID)
	assert.Equal(t, "C", notes[0].Get("body"))
	assert.Equal(t, 1, countRows(t, repo, "note"))
}

func TestEngine_HistoricalOwnerSeesItsOwnVersions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	p1 := create(t, e, "project", map[string]interface{}{"name": "P"})
	q1 := create(t, e, "project", map[string]interface{}{"name": "Q"})
	b1 := link(t, e, p1, "documents", entities.NewRecord("document", nil))

	p2, err := e.NewVersion(ctx, p1, nil)
	require.NoError(t, err)

	b2, err := e.LatestVersion(ctx, b1)
	require.NoError(t, err)
	require.Equal(t, 2, b2.Version)

	// move the document to Q
	b3, err := e.NewVersion(ctx, b2, &Overrides{Refs: map[string]int64{"project": q1.ID}})
	require.NoError(t, err)

	assert.Empty(t, related(t, e, p2, "documents"))
	assert.Equal(t, []int64{b3.ID}, recordIDs(related(t, e, q1, "documents")))
	assert.Equal(t, []int64{b1.ID}, recordIDs(related(t, e, p1, "documents")))
}

func TestEngine_ThroughRelationship(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	p1 := create(t, e, "project", map[string]interface{}{"name": "P"})
	k1 := create(t, e, "company", map[string]interface{}{"name": "K"})
	link(t, e, p1, "companies", k1)
	assert.Equal(t, 1, k1.Version)

	assert.Equal(t, []int64{k1.ID}, recordIDs(related(t, e, p1, "companies")))

	k2, err := e.NewVersion(ctx, k1, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{k2.ID}, recordIDs(related(t, e, p1, "companies")))

	p2, err := e.NewVersion(ctx, p1, nil)
	require.NoError(t, err)

	t.Run("正常系: 中間行は複製され最新の対象を指す", func(t *testing.T) {
		joins := related(t, e, p2, "project_companies")
		require.Len(t, joins, 1)
		ref, _ := joins[0].Ref("company")
		assert.Equal(t, k2.ID, ref)
		assert.Equal(t, 2, countRows(t, repo, "project_company"))
		assert.Equal(t, 2, countRows(t, repo, "company"))
	})

	t.Run("正常系: 過去のオーナーは当時の対象を見る", func(t *testing.T) {
		assert.Equal(t, []int64{k1.ID}, recordIDs(related(t, e, p1, "companies")))
	})

	t.Run("正常系: 最新のオーナーは対象の最新版を見る", func(t *testing.T) {
		k3, err := e.NewVersion(ctx, k2, nil)
		require.NoError(t, err)

		assert.Equal(t, []int64{k3.ID}, recordIDs(related(t, e, p2, "companies")))

		a, err := e.Association(p2, "companies")
		require.NoError(t, err)
		n, err := a.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("正常系: 名前で絞り込み", func(t *testing.T) {
		a, err := e.Association(p2, "companies")
		require.NoError(t, err)

		first, err := a.Where(repositories.AttrIs{Name: "name", Value: "K"}).First(ctx)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, k1.LineageID, first.LineageID)

		none, err := a.Where(repositories.AttrIs{Name: "name", Value: "other"}).First(ctx)
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestEngine_OverrideRelationships(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	p1 := create(t, e, "project", map[string]interface{}{"name": "P"})
	d1 := link(t, e, p1, "documents", entities.NewRecord("document", map[string]interface{}{"title": "old"}))

	t.Run("正常系: 割り当てた関連はコピーされない", func(t *testing.T) {
		fresh := entities.NewRecord("document", map[string]interface{}{"title": "new"})
		p2, err := e.NewVersion(ctx, p1, &Overrides{
			Relationships: map[string][]*entities.Record{"documents": {fresh}},
		})
		require.NoError(t, err)

		docs := related(t, e, p2, "documents")
		require.Len(t, docs, 1)
		assert.Equal(t, "new", docs[0].Get("title"))
		assert.Equal(t, 1, docs[0].Version)
		assert.True(t, fresh.IsNew())

		latest, err := e.IsLatest(ctx, d1)
		require.NoError(t, err)
		assert.True(t, latest)
		assert.Equal(t, 2, countRows(t, repo, "document"))

		p1 = p2
	})

	t.Run("正常系: 中間関連への割り当て", func(t *testing.T) {
		k := create(t, e, "company", map[string]interface{}{"name": "K"})
		p3, err := e.NewVersion(ctx, p1, &Overrides{
			Relationships: map[string][]*entities.Record{"companies": {k}},
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{k.ID}, recordIDs(related(t, e, p3, "companies")))
		p1 = p3
	})

	rows := countRows(t, repo, "project")

	tests := []struct {
		name      string
		overrides *Overrides
		kind      error
	}{
		{
			name:      "異常系: 未知の関連",
			overrides: &Overrides{Relationships: map[string][]*entities.Record{"nope": nil}},
			kind:      ErrUnknownRelationship,
		},
		{
			name: "異常系: 対象の型が違う",
			overrides: &Overrides{Relationships: map[string][]*entities.Record{
				"documents": {entities.NewRecord("milestone", nil)},
			}},
			kind: ErrValidation,
		},
		{
			name: "異常系: 中間行の関連は割り当てできない",
			overrides: &Overrides{Relationships: map[string][]*entities.Record{
				"project_companies": {entities.NewRecord("project_company", nil)},
			}},
			kind: ErrValidation,
		},
		{
			name: "異常系: 未保存の対象を中間関連に割り当て",
			overrides: &Overrides{Relationships: map[string][]*entities.Record{
				"companies": {entities.NewRecord("company", nil)},
			}},
			kind: ErrValidation,
		},
		{
			name: "異常系: Mutateの失敗",
			overrides: &Overrides{Mutate: func(r *entities.Record) error {
				return errors.New("bad title")
			}},
			kind: ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.NewVersion(ctx, p1, tt.overrides)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
			assert.Equal(t, rows, countRows(t, repo, "project"))
		})
	}
}

func TestEngine_ValidationRollsBackEverything(t *testing.T) {
	base, repo := newTestEngine(t)
	ctx := context.Background()

	p := create(t, base, "project", map[string]interface{}{"name": "P"})
	d := link(t, base, p, "documents", entities.NewRecord("document", nil))
	link(t, base, d, "comments", entities.NewRecord("comment", map[string]interface{}{"text": "hi"}))

	e := NewEngine(testSchema(t), repo, WithValidator(rejectValidator{entityType: "comment"}))

	projects := countRows(t, repo, "project")
	documents := countRows(t, repo, "document")

	cand, err := e.Build(ctx, p, nil)
	require.NoError(t, err)
	require.Len(t, cand.Children(), 1)
	assert.Equal(t, 3, cand.Rows())

	_, err = e.Commit(ctx, cand)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
	var verr *entities.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "reject", verr.Rule)

	assert.Equal(t, projects, countRows(t, repo, "project"))
	assert.Equal(t, documents, countRows(t, repo, "document"))
	assert.Zero(t, cand.Record.ID)
	assert.Zero(t, cand.Children()[0].Record.ID)

	latest, err := e.IsLatest(ctx, p)
	require.NoError(t, err)
	assert.True(t, latest)

	t.Run("異常系: 新規レコードの検証失敗", func(t *testing.T) {
		c := entities.NewRecord("comment", nil)
		_, err := e.Save(ctx, c)
		assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		assert.True(t, c.IsNew())
		assert.Zero(t, c.LineageID)
	})
}

func TestEngine_ConcurrentNewVersion(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	a1 := create(t, e, "project", map[string]interface{}{"name": "A"})

	var wg sync.WaitGroup
	results := make([]*entities.Record, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.NewVersion(ctx, a1.Clone(), nil)
		}(i)
	}
	wg.Wait()

	var won, lost int
	for i, err := range errs {
		if err == nil {
			won++
			assert.Equal(t, 2, results[i].Version)
			continue
		}
		lost++
		assert.True(t, IsRetryable(err), "got %v", err)
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
	assert.Equal(t, 2, countRows(t, repo, "project"))
}

func TestEngine_ConcurrentVersionConflict(t *testing.T) {
	base, repo := newTestEngine(t)
	ctx := context.Background()

	a1 := create(t, base, "project", map[string]interface{}{"name": "A"})
	e := NewEngine(testSchema(t), newConflictRepo(repo, 1))

	_, err := e.NewVersion(ctx, a1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConcurrentVersionConflict), "got %v", err)
	assert.True(t, errors.Is(err, repositories.ErrUniqueViolation))
	assert.False(t, errors.Is(err, ErrStore))
	assert.Equal(t, 1, countRows(t, repo, "project"))

	a2, err := e.NewVersion(ctx, a1, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, a2.Version)
}

func TestEngine_UpdateWithRetry(t *testing.T) {
	ctx := context.Background()
	rename := func(r *entities.Record) error {
		r.Set("name", "renamed")
		return nil
	}

	t.Run("正常系: 古いハンドルは最新版に付け替えて再試行", func(t *testing.T) {
		e, _ := newTestEngine(t)
		a1 := create(t, e, "project", map[string]interface{}{"name": "A"})
		stale := a1.Clone()
		_, err := e.NewVersion(ctx, a1, nil)
		require.NoError(t, err)

		got, err := e.UpdateWithRetry(ctx, stale, rename)
		require.NoError(t, err)
		assert.Same(t, stale, got)
		assert.Equal(t, 3, stale.Version)
		assert.Equal(t, "renamed", stale.Get("name"))
	})

	t.Run("正常系: 一意制約の競合後に再試行", func(t *testing.T) {
		base, repo := newTestEngine(t)
		a1 := create(t, base, "project", map[string]interface{}{"name": "A"})
		e := NewEngine(testSchema(t), newConflictRepo(repo, 1))

		_, err := e.UpdateWithRetry(ctx, a1, rename)
		require.NoError(t, err)
		assert.Equal(t, 2, a1.Version)
	})

	t.Run("異常系: 再試行回数の上限", func(t *testing.T) {
		e, _ := newTestEngine(t, WithConflictRetries(1))
		a1 := create(t, e, "project", map[string]interface{}{"name": "A"})
		stale := a1.Clone()
		_, err := e.NewVersion(ctx, a1, nil)
		require.NoError(t, err)

		_, err = e.UpdateWithRetry(ctx, stale, rename)
		assert.True(t, errors.Is(err, ErrReadOnlyVersion), "got %v", err)
	})

	t.Run("異常系: 再試行しないエラー", func(t *testing.T) {
		e, _ := newTestEngine(t)
		a1 := create(t, e, "project", map[string]interface{}{"name": "A"})

		_, err := e.UpdateWithRetry(ctx, a1, func(*entities.Record) error { return errors.New("no") })
		assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		assert.Equal(t, 1, a1.Version)
	})
}

func TestEngine_SaveUnversionedInPlace(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	p := create(t, e, "project", nil)
	n := create(t, e, "note", map[string]interface{}{"body": "a"})
	id := n.ID

	n.Set("body", "b")
	n.SetRef("project", p.ID)
	_, err := e.Save(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, id, n.ID)
	assert.Equal(t, "b", n.Get("body"))
	ref, _ := n.Ref("project")
	assert.Equal(t, p.ID, ref)

	n.SetRef("project", 0)
	_, err = e.Save(ctx, n)
	require.NoError(t, err)
	_, ok := n.Ref("project")
	assert.False(t, ok)
	assert.Equal(t, 1, countRows(t, repo, "note"))

	latest, err := e.IsLatest(ctx, n)
	require.NoError(t, err)
	assert.True(t, latest)
}

func TestEngine_BecomeCurrent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	a1 := create(t, e, "project", map[string]interface{}{"name": "A"})
	stale := a1.Clone()
	a2, err := e.NewVersion(ctx, a1, &Overrides{Attributes: map[string]interface{}{"name": "B"}})
	require.NoError(t, err)

	got, err := e.BecomeCurrent(ctx, stale)
	require.NoError(t, err)
	assert.Same(t, stale, got)
	assert.Equal(t, a2.ID, stale.ID)
	assert.Equal(t, "B", stale.Get("name"))

	_, err = e.BecomeCurrent(ctx, entities.NewRecord("project", nil))
	assert.True(t, errors.Is(err, ErrNotPersisted))
}

func TestEngine_EntityTypeErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	n := create(t, e, "note", nil)

	_, err := e.NewVersion(ctx, n, nil)
	assert.True(t, errors.Is(err, ErrNotVersioned), "got %v", err)

	_, err = e.NewVersion(ctx, entities.NewRecord("ghost", nil), nil)
	assert.True(t, errors.Is(err, ErrUnknownEntityType), "got %v", err)

	_, err = e.Create(ctx, "ghost", nil)
	assert.True(t, errors.Is(err, ErrUnknownEntityType), "got %v", err)

	_, err = e.Association(n, "nope")
	assert.True(t, errors.Is(err, ErrUnknownRelationship), "got %v", err)

	latest, err := e.IsLatest(ctx, entities.NewRecord("project", nil))
	require.NoError(t, err)
	assert.False(t, latest)
}

func TestAssociation_Link(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	p1 := create(t, e, "project", nil)

	t.Run("正常系: 保存済みの非バージョン対象を付け替え", func(t *testing.T) {
		n := create(t, e, "note", nil)
		link(t, e, p1, "notes", n)
		ref, _ := n.Ref("project")
		assert.Equal(t, p1.ID, ref)
		assert.Equal(t, []int64{n.ID}, recordIDs(related(t, e, p1, "notes")))
	})

	t.Run("正常系: 保存済みのバージョン対象は新バージョンになる", func(t *testing.T) {
		m := create(t, e, "milestone", nil)
		link(t, e, p1, "milestones", m)
		assert.Equal(t, 2, m.Version)
		assert.Equal(t, []int64{m.ID}, recordIDs(related(t, e, p1, "milestones")))
	})

	p2, err := e.NewVersion(ctx, p1, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		owner  *entities.Record
		rel    string
		target *entities.Record
		kind   error
	}{
		{"異常系: 過去のオーナー", p1, "notes", entities.NewRecord("note", nil), ErrReadOnlyVersion},
		{"異常系: 未保存のオーナー", entities.NewRecord("project", nil), "notes", entities.NewRecord("note", nil), ErrNotPersisted},
		{"異常系: 対象の型が違う", p2, "notes", entities.NewRecord("milestone", nil), ErrValidation},
		{"異常系: 未保存の対象を中間関連に", p2, "companies", entities.NewRecord("company", nil), ErrNotPersisted},
		{"異常系: 中間行の関連", p2, "project_companies", entities.NewRecord("project_company", nil), ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := e.Association(tt.owner, tt.rel)
			require.NoError(t, err)
			err = a.Link(ctx, tt.target)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestAttachLineage(t *testing.T) {
	_, repo := newTestEngine(t)
	ctx := context.Background()

	r := entities.NewRecord("project", nil)
	r.Version = 1
	id, err := repo.Insert(ctx, r)
	require.NoError(t, err)
	r.ID = id

	counting := &countingRepo{RecordRepository: repo}
	require.NoError(t, AttachLineage(ctx, counting, r))
	assert.Equal(t, id, r.LineageID)
	assert.Equal(t, 1, counting.updates)

	require.NoError(t, AttachLineage(ctx, counting, r))
	assert.Equal(t, 1, counting.updates)

	stored, err := repo.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, stored.LineageID)

	err = AttachLineage(ctx, counting, entities.NewRecord("project", nil))
	assert.True(t, errors.Is(err, ErrNotPersisted))
}

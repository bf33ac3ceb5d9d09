package orm_test

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lykmapipo/moron/expr"
	"github.com/lykmapipo/moron/orm"
)

const (
	selectPets     = "SELECT `animals`.* FROM `animals` WHERE `animals`.`owner_id` IN (?)"
	selectPets2    = "SELECT `animals`.* FROM `animals` WHERE `animals`.`owner_id` IN (?, ?)"
	selectChildren = "SELECT `persons`.* FROM `persons` WHERE `persons`.`parent_id` IN (?)"
)

func newMockDB(t *testing.T) (*orm.DB, sqlmock.Sqlmock) {
	t.Helper()

	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return orm.New(raw, orm.MySQL), mock
}

func animalRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "species", "owner_id"})
}

func personRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "first_name", "parent_id"})
}

func ids(insts []*orm.Instance) []any {
	out := make([]any, len(insts))
	for i, inst := range insts {
		out[i] = inst.ID()
	}
	return out
}

func TestFindGroupsOntoOwners(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)
	p1, p2, p1again := person(reg, int64(1), "a"), person(reg, int64(2), "b"), person(reg, int64(1), "a")

	mock.ExpectQuery(selectPets2).
		WithArgs(1, 2).
		WillReturnRows(animalRows().
			AddRow(int64(10), "a1", "dog", int64(1)).
			AddRow(int64(11), "b1", "cat", int64(2)).
			AddRow(int64(12), "a2", "dog", int64(1)).
			AddRow(int64(13), "b2", "cat", int64(2)))

	pets, err := reg.MustModel("Person").RelatedQuery("pets", db, p1, p2, p1again).Find(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []any{int64(10), int64(11), int64(12), int64(13)}, ids(pets), "flat result keeps query order")
	assert.Equal(t, []any{int64(10), int64(12)}, ids(p1.Related("pets")))
	assert.Equal(t, []any{int64(11), int64(13)}, ids(p2.Related("pets")))
	assert.Equal(t, []any{int64(10), int64(12)}, ids(p1again.Related("pets")))
	assert.Equal(t, "dog", pets[0].Get("species"))
	assert.Equal(t, int64(1), pets[0].Get("ownerId"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindWithoutMatchesAssignsEmpty(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)
	p := person(reg, int64(1), "a")

	mock.ExpectQuery(selectPets).WithArgs(1).WillReturnRows(animalRows())
	mock.ExpectQuery("SELECT `passports`.* FROM `passports` WHERE `passports`.`person_id` IN (?)").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "person_id"}))

	require.NoError(t, p.LoadRelated(t.Context(), db, "[pets, passport]"))

	assert.True(t, p.Loaded("pets"))
	assert.Empty(t, p.Related("pets"))
	assert.True(t, p.Loaded("passport"))
	assert.Nil(t, p.One("passport"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOwnersWithoutKeysSkipsQuery(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)
	unsaved := person(reg, nil, "new")

	pets, err := unsaved.RelatedQuery("pets", db).Find(t.Context())
	require.NoError(t, err)
	assert.Empty(t, pets)
	assert.True(t, unsaved.Loaded("pets"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEagerHasOneAndManyToMany(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)
	p1, p2 := person(reg, int64(1), "a"), person(reg, int64(2), "b")

	mock.ExpectQuery("SELECT `passports`.* FROM `passports` WHERE `passports`.`person_id` IN (?, ?)").
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "person_id"}).
			AddRow(int64(100), "X1", int64(2)))
	mock.ExpectQuery("SELECT `movies`.*, `persons_movies`.`actor_id` AS `__owner_key` FROM `movies` " +
		"INNER JOIN `persons_movies` ON `persons_movies`.`movie_id` = `movies`.`id` " +
		"WHERE `persons_movies`.`actor_id` IN (?, ?)").
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "__owner_key"}).
			AddRow(int64(7), "Alien", int64(1)).
			AddRow(int64(8), "Heat", int64(1)).
			AddRow(int64(7), "Alien", int64(2)))

	require.NoError(t, orm.LoadRelated(t.Context(), db, []*orm.Instance{p1, p2}, "[passport, movies]"))

	assert.Nil(t, p1.One("passport"))
	require.NotNil(t, p2.One("passport"))
	assert.Equal(t, int64(100), p2.One("passport").ID())

	assert.Equal(t, []any{int64(7), int64(8)}, ids(p1.Related("movies")))
	assert.Equal(t, []any{int64(7)}, ids(p2.Related("movies")))
	_, leaked := p1.Related("movies")[0].Record()["__owner_key"]
	assert.False(t, leaked, "owner key alias must not stay on the record")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEagerRecursiveTerminates(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)
	root := person(reg, int64(1), "root")

	mock.ExpectQuery(selectChildren).WithArgs(1).WillReturnRows(personRows().AddRow(int64(2), "child", int64(1)))
	mock.ExpectQuery(selectChildren).WithArgs(2).WillReturnRows(personRows().AddRow(int64(3), "grandchild", int64(2)))
	mock.ExpectQuery(selectChildren).WithArgs(3).WillReturnRows(personRows())

	require.NoError(t, root.LoadRelated(t.Context(), db, "children.^"))

	child := root.One("children")
	require.NotNil(t, child)
	grandchild := child.One("children")
	require.NotNil(t, grandchild)
	assert.Equal(t, int64(3), grandchild.ID())
	assert.True(t, grandchild.Loaded("children"))
	assert.Empty(t, grandchild.Related("children"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEagerRecursiveCycleStops(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)
	root := person(reg, int64(1), "a")

	// 1 → 2 → 1: the second visit of id 1 is not expanded again
	mock.ExpectQuery(selectChildren).WithArgs(1).WillReturnRows(personRows().AddRow(int64(2), "b", int64(1)))
	mock.ExpectQuery(selectChildren).WithArgs(2).WillReturnRows(personRows().AddRow(int64(1), "a", int64(2)))

	require.NoError(t, root.LoadRelated(t.Context(), db, "children.^"))

	back := root.One("children").One("children")
	require.NotNil(t, back)
	assert.Equal(t, int64(1), back.ID())
	assert.False(t, back.Loaded("children"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEagerRecursiveDuplicateOwners(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)
	first, second := person(reg, int64(1), "a"), person(reg, int64(1), "a")

	mock.ExpectQuery(selectChildren).WithArgs(1).WillReturnRows(personRows().AddRow(int64(2), "b", int64(1)))
	mock.ExpectQuery(selectChildren).WithArgs(2).WillReturnRows(personRows())

	f := orm.NewFetcher(db, orm.DefaultFetchOptions)
	require.NoError(t, f.Load(t.Context(), []*orm.Instance{first, second}, "children.^"))

	for _, root := range []*orm.Instance{first, second} {
		assert.True(t, root.Loaded("children"))
		assert.Equal(t, []any{int64(2)}, ids(root.Related("children")))
	}
	assert.True(t, first.One("children").Loaded("children"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func withFollows(def *orm.ModelDef) {
	def.Relations = append(def.Relations, orm.RelationDef{
		Name: "follows", Kind: orm.ManyToMany, Model: "Person",
		Join:    orm.Join{From: "persons.id", To: "persons.id"},
		Through: &orm.Through{From: "persons_follows.follower_id", To: "persons_follows.followee_id"},
	})
}

func TestEagerRecursiveDiamond(t *testing.T) {
	t.Parallel()

	const selectFollows = "SELECT `persons`.*, `persons_follows`.`follower_id` AS `__owner_key` FROM `persons` " +
		"INNER JOIN `persons_follows` ON `persons_follows`.`followee_id` = `persons`.`id` " +
		"WHERE `persons_follows`.`follower_id` IN "
	followRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "first_name", "parent_id", "__owner_key"})
	}

	db, mock := newMockDB(t)
	reg := testRegistry(t, withFollows)
	root := person(reg, int64(1), "a")

	// 1 → 2, 1 → 3, 2 → 3, 3 → 4: id 3 is reached twice and expanded on both branches
	mock.ExpectQuery(selectFollows+"(?)").WithArgs(1).
		WillReturnRows(followRows().AddRow(int64(2), "b", nil, int64(1)).AddRow(int64(3), "c", nil, int64(1)))
	mock.ExpectQuery(selectFollows+"(?, ?)").WithArgs(2, 3).
		WillReturnRows(followRows().AddRow(int64(3), "c", nil, int64(2)).AddRow(int64(4), "d", nil, int64(3)))
	mock.ExpectQuery(selectFollows+"(?, ?)").WithArgs(3, 4).
		WillReturnRows(followRows().AddRow(int64(4), "d", nil, int64(3)))
	mock.ExpectQuery(selectFollows+"(?)").WithArgs(4).WillReturnRows(followRows())

	require.NoError(t, root.LoadRelated(t.Context(), db, "follows.^"))

	follows := root.Related("follows")
	require.Len(t, follows, 2)
	assert.Equal(t, []any{int64(2), int64(3)}, ids(follows))

	viaTwo := follows[0].One("follows")
	require.NotNil(t, viaTwo)
	assert.Equal(t, int64(3), viaTwo.ID())
	assert.Equal(t, []any{int64(4)}, ids(viaTwo.Related("follows")))
	assert.True(t, viaTwo.One("follows").Loaded("follows"))

	direct := follows[1]
	assert.Equal(t, []any{int64(4)}, ids(direct.Related("follows")))
	assert.True(t, direct.One("follows").Loaded("follows"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetcherOverTransactionIsSequential(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	tx, err := db.Begin(t.Context())
	require.NoError(t, err)

	opts := orm.FetchOptions{Concurrency: 4}
	assert.Equal(t, 4, orm.NewFetcher(db, opts).Options().Concurrency)
	assert.Equal(t, 1, orm.NewFetcher(tx, opts).Options().Concurrency)

	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEagerMaxDepth(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)
	root := person(reg, int64(1), "root")

	mock.ExpectQuery(selectChildren).WithArgs(1).WillReturnRows(personRows().AddRow(int64(2), "child", int64(1)))

	f := orm.NewFetcher(db, orm.FetchOptions{MaxDepth: 1})
	err := f.Load(t.Context(), []*orm.Instance{root}, "children.^")
	require.ErrorIs(t, err, orm.ErrMaxDepth)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEagerNestedOneQueryPerLevel(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)
	root := person(reg, int64(1), "root")

	mock.ExpectQuery(selectPets).WithArgs(1).
		WillReturnRows(animalRows().AddRow(int64(10), "rex", "dog", int64(1)))
	mock.ExpectQuery(selectChildren).WithArgs(1).
		WillReturnRows(personRows().AddRow(int64(2), "b", int64(1)).AddRow(int64(3), "c", int64(1)))
	mock.ExpectQuery(selectPets2).WithArgs(2, 3).
		WillReturnRows(animalRows().AddRow(int64(11), "tom", "cat", int64(3)))

	require.NoError(t, root.LoadRelated(t.Context(), db, "[pets, children.pets]"))

	assert.Equal(t, []any{int64(10)}, ids(root.Related("pets")))
	children := root.Related("children")
	require.Len(t, children, 2)
	assert.Empty(t, children[0].Related("pets"))
	assert.Equal(t, []any{int64(11)}, ids(children[1].Related("pets")))
	assert.False(t, root.Related("pets")[0].Loaded("pets"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEagerWildcard(t *testing.T) {
	t.Parallel()

	reg := orm.NewRegistry()
	reg.MustDefine(orm.ModelDef{
		Name: "Author", Table: "authors",
		Fields: []orm.Field{{Name: "name"}},
		Relations: []orm.RelationDef{{
			Name: "books", Kind: orm.HasMany, Model: "Book",
			Join: orm.Join{From: "authors.id", To: "books.author_id"},
		}},
	})
	reg.MustDefine(orm.ModelDef{Name: "Book", Table: "books", Fields: []orm.Field{{Name: "authorId"}}})
	require.NoError(t, reg.Build())

	db, mock := newMockDB(t)
	author := reg.MustModel("Author").New(orm.Record{"id": int64(1)})

	mock.ExpectQuery("SELECT `books`.* FROM `books` WHERE `books`.`author_id` IN (?)").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "author_id"}).AddRow(int64(5), int64(1)))

	require.NoError(t, author.LoadRelated(t.Context(), db, "*"))
	assert.Equal(t, []any{int64(5)}, ids(author.Related("books")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEagerUnknownRelationBeforeQueries(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)

	err := orm.LoadRelated(t.Context(), db, []*orm.Instance{person(reg, int64(1), "a")}, "[pets, nope]")
	require.ErrorIs(t, err, orm.ErrUnknownRelation)

	var re *orm.RelationError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "nope", re.Relation)

	err = orm.LoadRelated(t.Context(), db, []*orm.Instance{person(reg, int64(1), "a")}, "[pets")
	require.ErrorIs(t, err, expr.ErrSyntax)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEagerQueryErrorFailsWholeLoad(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)
	errBoom := errors.New("boom")

	mock.ExpectQuery(selectPets).WithArgs(1).WillReturnRows(animalRows())
	mock.ExpectQuery(selectChildren).WithArgs(1).WillReturnError(errBoom)

	err := orm.LoadRelated(t.Context(), db, []*orm.Instance{person(reg, int64(1), "a")}, "[pets, children]")
	require.ErrorIs(t, err, errBoom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEagerMixedModelsRejected(t *testing.T) {
	t.Parallel()

	db, _ := newMockDB(t)
	reg := testRegistry(t)
	movie := reg.MustModel("Movie").New(orm.Record{"id": int64(1)})

	err := orm.LoadRelated(t.Context(), db, []*orm.Instance{person(reg, int64(1), "a"), movie}, "pets")
	require.Error(t, err)
}

func TestEagerConcurrentSiblings(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	mock.MatchExpectationsInOrder(false)
	reg := testRegistry(t)
	p := person(reg, int64(1), "a")

	mock.ExpectQuery(selectPets).WithArgs(1).
		WillReturnRows(animalRows().AddRow(int64(10), "rex", "dog", int64(1)))
	mock.ExpectQuery(selectChildren).WithArgs(1).
		WillReturnRows(personRows().AddRow(int64(2), "b", int64(1)))
	mock.ExpectQuery("SELECT `passports`.* FROM `passports` WHERE `passports`.`person_id` IN (?)").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "person_id"}).AddRow(int64(100), "X1", int64(1)))

	f := orm.NewFetcher(db, orm.FetchOptions{Concurrency: 3})
	require.NoError(t, f.Load(t.Context(), []*orm.Instance{p}, "[pets, children, passport]"))

	assert.Len(t, p.Related("pets"), 1)
	assert.Len(t, p.Related("children"), 1)
	assert.NotNil(t, p.One("passport"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryEagerAfterFind(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)

	mock.ExpectQuery("SELECT `persons`.* FROM `persons` WHERE `persons`.`id` = ?").
		WithArgs(1).
		WillReturnRows(personRows().AddRow(int64(1), "Jennifer", nil))
	mock.ExpectQuery(selectPets).WithArgs(1).
		WillReturnRows(animalRows().AddRow(int64(10), "rex", "dog", int64(1)))

	people, err := reg.MustModel("Person").Query(db).
		Where("`persons`.`id` = ?", 1).
		Eager("pets").
		Find(t.Context())
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "Jennifer", people[0].Get("firstName"))
	assert.Nil(t, people[0].Get("parentId"))
	assert.Len(t, people[0].Related("pets"), 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelatedCount(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)

	mock.ExpectQuery("SELECT COUNT(*) FROM `animals` WHERE species = ? AND `animals`.`owner_id` IN (?)").
		WithArgs("dog", 1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	n, err := person(reg, int64(1), "a").RelatedQuery("pets", db).Where("species = ?", "dog").Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionThreadsThroughEagerLoad(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)
	root := person(reg, int64(1), "root")

	mock.ExpectBegin()
	mock.ExpectQuery(selectChildren).WithArgs(1).WillReturnRows(personRows().AddRow(int64(2), "b", int64(1)))
	mock.ExpectQuery(selectPets).WithArgs(2).WillReturnRows(animalRows())
	mock.ExpectCommit()

	err := db.Transaction(t.Context(), func(tx *orm.Tx) error {
		return root.LoadRelated(t.Context(), tx, "children.pets")
	})
	require.NoError(t, err)
	assert.Len(t, root.Related("children"), 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelationLinks(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	reg := testRegistry(t)
	movies, err := reg.MustModel("Person").Relation("movies")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT `actor_id`, `movie_id` FROM `persons_movies` WHERE `actor_id` IN (?, ?)").
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"actor_id", "movie_id"}).
			AddRow(int64(1), int64(7)).
			AddRow(int64(2), int64(7)).
			AddRow(int64(1), int64(8)))

	pairs, err := movies.Links(t.Context(), db, person(reg, int64(1), "a"), person(reg, int64(2), "b"))
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	assert.Equal(t, []any{int64(7), int64(8)}, orm.UniqueRelated(pairs))
	assert.Equal(t, map[string][]any{
		"1": {int64(7), int64(8)},
		"2": {int64(7)},
	}, orm.GroupByOwner(pairs))
	require.NoError(t, mock.ExpectationsWereMet())
}

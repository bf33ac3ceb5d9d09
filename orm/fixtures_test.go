package orm_test

import (
	"context"
	"testing"

	"github.com/lykmapipo/moron/orm"
)

// testRegistry builds the Person / Animal / Movie / Passport models shared
// by the orm tests.
//
//	persons(id, first_name, parent_id)
//	animals(id, name, species, owner_id)
//	movies(id, name)
//	passports(id, number, person_id)
//	persons_movies(actor_id, movie_id)
func testRegistry(t *testing.T, opts ...func(*orm.ModelDef)) *orm.Registry {
	t.Helper()

	person := orm.ModelDef{
		Name:   "Person",
		Table:  "persons",
		Fields: []orm.Field{{Name: "firstName"}, {Name: "parentId"}},
		Relations: []orm.RelationDef{
			{
				Name: "pets", Kind: orm.HasMany, Model: "Animal",
				Join: orm.Join{From: "persons.id", To: "animals.owner_id"},
			},
			{
				Name: "children", Kind: orm.HasMany, Model: "Person",
				Join: orm.Join{From: "persons.id", To: "persons.parent_id"},
			},
			{
				Name: "passport", Kind: orm.HasOne, Model: "Passport",
				Join: orm.Join{From: "persons.id", To: "passports.person_id"},
			},
			{
				Name: "movies", Kind: orm.ManyToMany, Model: "Movie",
				Join:    orm.Join{From: "persons.id", To: "movies.id"},
				Through: &orm.Through{From: "persons_movies.actor_id", To: "persons_movies.movie_id"},
			},
		},
	}
	for _, o := range opts {
		o(&person)
	}

	reg := orm.NewRegistry()
	reg.MustDefine(person)
	reg.MustDefine(orm.ModelDef{
		Name:   "Animal",
		Table:  "animals",
		Fields: []orm.Field{{Name: "name"}, {Name: "species"}, {Name: "ownerId"}},
	})
	reg.MustDefine(orm.ModelDef{
		Name:   "Movie",
		Table:  "movies",
		Fields: []orm.Field{{Name: "name"}},
	})
	reg.MustDefine(orm.ModelDef{
		Name:   "Passport",
		Table:  "passports",
		Fields: []orm.Field{{Name: "number"}, {Name: "personId"}},
	})
	if err := reg.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return reg
}

func person(reg *orm.Registry, id any, name string) *orm.Instance {
	return reg.MustModel("Person").New(orm.Record{"id": id, "firstName": name})
}

// validatorFunc adapts a function to orm.Validator.
type validatorFunc func(ctx context.Context, model string, rec orm.Record, partial bool) error

func (f validatorFunc) Validate(ctx context.Context, model string, rec orm.Record, partial bool) error {
	return f(ctx, model, rec, partial)
}

package testdata

import "time"

type Person struct {
	ID        int       `db:"id,primaryKey"`
	FirstName string    `db:"first_name"`
	ParentID  *int      // inferred column parent_id
	CreatedAt time.Time // convention
	Children  []Person  `rel:"has_many,foreign_key:parent_id"`
	Pets      []*Animal `rel:"has_many,foreign_key:owner_id"`
	Passport  *Passport `rel:"has_one,foreign_key:person_id"`
	Movies    []Movie   `rel:"many_to_many,through:persons_movies,from:actor_id,to:movie_id"`
	secret    string    // unexported, skipped
}

func (Person) TableName() string { return "persons" }

type Animal struct {
	ID      int
	Name    string
	OwnerID *int
	Notes   string `db:"-"`
}

type Passport struct {
	ID       int
	Number   string `db:"passport_no"`
	PersonID int
}

type Movie struct {
	Key      string    `db:"movie_key,primaryKey"`
	Title    string    `db:"name"`
	Released time.Time `db:"released_on,updatedAt"`
}

// NotAModel has no persisted fields.
type NotAModel struct{}

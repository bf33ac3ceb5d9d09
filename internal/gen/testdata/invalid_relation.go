package testdata

type Author struct {
	ID     int
	Author *Author `rel:"belongs_to,foreign_key:author_id"`
}

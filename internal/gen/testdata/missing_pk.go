package testdata

type Tag struct {
	Label string
}

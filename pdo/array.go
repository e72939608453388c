package pdo

// Array binds a slice of composite rows to a UCARRAY slot. New returns an empty row and is
// used both to declare the row template and to build rows on populate.
type Array[E Marshaller] struct {
	Rows *[]E
	New  func() E
	Dir  Direction
}

func NewArray[E Marshaller](rows *[]E, newRow func() E, dir Direction) *Array[E] {
	return &Array[E]{Rows: rows, New: newRow, Dir: dir}
}

func (a *Array[E]) DeclareAttributes(c *Container, name string) error {
	if err := DeclareArray(c, name, a.Dir); err != nil {
		return err
	}
	return a.New().DeclareAttributes(c, templateOf(name))
}

func (a *Array[E]) SetAttributes(c *Container, name string) error {
	if !a.Dir.Inbound() || a.Rows == nil {
		return nil
	}
	for i, row := range *a.Rows {
		if err := row.SetAttributes(c, Row(name, i+1)); err != nil {
			return err
		}
	}
	return nil
}

// PopulateAttributes replaces the bound slice with the rows held by the container. The
// slice is only replaced once every row has been read.
func (a *Array[E]) PopulateAttributes(c *Container, name string) error {
	commit, err := a.StageAttributes(c, name)
	if err != nil {
		return err
	}
	commit()
	return nil
}

func (a *Array[E]) StageAttributes(c *Container, name string) (func(), error) {
	if !a.Dir.Outbound() {
		return func() {}, nil
	}
	n := c.LastRow(name)
	rows := make([]E, 0, n)
	for i := 1; i <= n; i++ {
		row := a.New()
		if err := row.PopulateAttributes(c, Row(name, i)); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return func() { *a.Rows = rows }, nil
}

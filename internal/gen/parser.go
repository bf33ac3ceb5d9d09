// Package gen derives model definitions from annotated Go structs.
//
//	type Person struct {
//		ID        int
//		FirstName string
//		ParentID  *int
//		Pets      []Animal `rel:"has_many,foreign_key:owner_id"`
//		Movies    []Movie  `rel:"many_to_many,through:persons_movies,from:actor_id,to:movie_id"`
//	}
//
//	func (Person) TableName() string { return "persons" }
package gen

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"strconv"
	"strings"

	"github.com/lykmapipo/moron/internal/naming"
)

// FieldInfo holds parsed metadata for one persisted struct field.
type FieldInfo struct {
	Name       string // Go field name, e.g. "ParentID"
	Field      string // record field name, e.g. "parentId"
	Column     string // column name, from the db tag or inferred
	GoType     string // Go type as string, e.g. "int", "*int", "time.Time"
	PrimaryKey bool
	CreatedAt  bool
	UpdatedAt  bool
}

// RelationInfo holds a parsed `rel` tag.
type RelationInfo struct {
	Name       string // relation name, e.g. "pets"
	Kind       string // has_one | has_many | many_to_many
	Target     string // related struct name
	ForeignKey string // column on the related table (has_one, has_many)
	Through    string // bridge table (many_to_many)
	From       string // bridge column pointing at the owner
	To         string // bridge column pointing at the related row
}

// StructInfo holds parsed metadata for one struct.
type StructInfo struct {
	Name      string
	Package   string
	Fields    []FieldInfo
	Relations []RelationInfo
	TableName string // from a TableName() method, empty when inferred
}

// PrimaryKeyField returns the primary key field, or an error if none or
// multiple are defined.
func (s *StructInfo) PrimaryKeyField() (*FieldInfo, error) {
	var pk *FieldInfo
	for i := range s.Fields {
		if s.Fields[i].PrimaryKey {
			if pk != nil {
				return nil, fmt.Errorf("multiple primary keys: %s and %s", pk.Name, s.Fields[i].Name)
			}
			pk = &s.Fields[i]
		}
	}
	if pk == nil {
		return nil, fmt.Errorf("no primary key defined for %s", s.Name)
	}
	return pk, nil
}

// Table returns the table name: the TableName() override or the plural
// snake_case form of the struct name.
func (s *StructInfo) Table() string {
	if s.TableName != "" {
		return s.TableName
	}
	return naming.TableName(s.Name)
}

// Parse reads the Go file at path and returns StructInfo for every struct
// with at least one persisted field, in declaration order.
func Parse(filePath string) ([]*StructInfo, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, nil, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse file: %w", err)
	}

	pkg := file.Name.Name
	var infos []*StructInfo
	byName := make(map[string]*StructInfo)
	var parseErr error

	ast.Inspect(file, func(n ast.Node) bool {
		if parseErr != nil {
			return false
		}
		ts, ok := n.(*ast.TypeSpec)
		if !ok {
			return true
		}
		st, ok := ts.Type.(*ast.StructType)
		if !ok {
			return true
		}

		info := &StructInfo{Name: ts.Name.Name, Package: pkg}
		if parseErr = parseStructFields(info, st); parseErr != nil {
			return false
		}
		if len(info.Fields) == 0 {
			return true
		}
		infos = append(infos, info)
		byName[info.Name] = info
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	for _, decl := range file.Decls {
		recv, table, ok := tableNameMethod(decl)
		if !ok {
			continue
		}
		if info := byName[recv]; info != nil {
			info.TableName = table
		}
	}
	return infos, nil
}

func parseStructFields(info *StructInfo, st *ast.StructType) error {
	for _, field := range st.Fields.List {
		if len(field.Names) == 0 || !field.Names[0].IsExported() {
			continue // embedded or unexported
		}
		tag := reflect.StructTag("")
		if field.Tag != nil {
			tag = reflect.StructTag(strings.Trim(field.Tag.Value, "`"))
		}

		if relTag, ok := tag.Lookup("rel"); ok {
			rel, err := parseRelation(field, relTag)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", info.Name, field.Names[0].Name, err)
			}
			info.Relations = append(info.Relations, rel)
			continue
		}

		if fi, skip := parseField(field, tag); !skip {
			info.Fields = append(info.Fields, fi)
		}
	}
	return nil
}

func parseField(field *ast.Field, tag reflect.StructTag) (FieldInfo, bool) {
	name := field.Names[0].Name

	// Defaults: column inferred from field name, ID field is primary key,
	// CreatedAt/UpdatedAt are timestamps.
	fi := FieldInfo{
		Name:       name,
		Column:     naming.CamelToSnake(name),
		GoType:     typeToString(field.Type),
		PrimaryKey: name == "ID",
		CreatedAt:  name == "CreatedAt",
		UpdatedAt:  name == "UpdatedAt",
	}

	if dbTag, ok := tag.Lookup("db"); ok {
		if dbTag == "-" {
			return FieldInfo{}, true
		}
		parts := strings.Split(dbTag, ",")
		if parts[0] != "" {
			fi.Column = parts[0]
		}
		for _, opt := range parts[1:] {
			switch opt {
			case "primaryKey":
				fi.PrimaryKey = true
			case "createdAt":
				fi.CreatedAt = true
			case "updatedAt":
				fi.UpdatedAt = true
			}
		}
	}
	fi.Field = naming.LowerCamel(naming.CamelToSnake(name))
	return fi, false
}

// parseRelation reads `rel:"kind,key:value,..."`.
func parseRelation(field *ast.Field, tag string) (RelationInfo, error) {
	parts := strings.Split(tag, ",")
	rel := RelationInfo{
		Name:   naming.LowerCamel(naming.CamelToSnake(field.Names[0].Name)),
		Kind:   parts[0],
		Target: elemType(field.Type),
	}
	for _, opt := range parts[1:] {
		k, v, ok := strings.Cut(opt, ":")
		if !ok {
			return RelationInfo{}, fmt.Errorf("malformed rel option %q", opt)
		}
		switch k {
		case "foreign_key":
			rel.ForeignKey = v
		case "through":
			rel.Through = v
		case "from":
			rel.From = v
		case "to":
			rel.To = v
		default:
			return RelationInfo{}, fmt.Errorf("unknown rel option %q", k)
		}
	}

	switch rel.Kind {
	case "has_one", "has_many":
		if rel.ForeignKey == "" {
			return RelationInfo{}, fmt.Errorf("%s relation needs foreign_key", rel.Kind)
		}
	case "many_to_many":
		if rel.Through == "" || rel.From == "" || rel.To == "" {
			return RelationInfo{}, fmt.Errorf("many_to_many relation needs through, from and to")
		}
	default:
		return RelationInfo{}, fmt.Errorf("unsupported relation kind %q", rel.Kind)
	}
	return rel, nil
}

// tableNameMethod matches `func (T) TableName() string { return "..." }`.
func tableNameMethod(decl ast.Decl) (string, string, bool) {
	fn, ok := decl.(*ast.FuncDecl)
	if !ok || fn.Name.Name != "TableName" || fn.Recv == nil || len(fn.Recv.List) != 1 || fn.Body == nil {
		return "", "", false
	}
	recv := strings.TrimPrefix(typeToString(fn.Recv.List[0].Type), "*")
	if len(fn.Body.List) != 1 {
		return "", "", false
	}
	ret, ok := fn.Body.List[0].(*ast.ReturnStmt)
	if !ok || len(ret.Results) != 1 {
		return "", "", false
	}
	lit, ok := ret.Results[0].(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", "", false
	}
	table, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", "", false
	}
	return recv, table, true
}

// elemType strips slices and pointers: []*pkg.Movie → Movie.
func elemType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return elemType(t.X)
	case *ast.ArrayType:
		return elemType(t.Elt)
	case *ast.SelectorExpr:
		return t.Sel.Name
	case *ast.Ident:
		return t.Name
	}
	return typeToString(expr)
}

func typeToString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.SelectorExpr:
		return typeToString(t.X) + "." + t.Sel.Name
	case *ast.StarExpr:
		return "*" + typeToString(t.X)
	case *ast.ArrayType:
		if t.Len == nil {
			return "[]" + typeToString(t.Elt)
		}
		return fmt.Sprintf("[%s]%s", typeToString(t.Len), typeToString(t.Elt))
	default:
		return fmt.Sprintf("%T", expr)
	}
}

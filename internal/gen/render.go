package gen

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lykmapipo/moron/config"
	"github.com/lykmapipo/moron/internal/naming"
)

// Models converts parsed structs into model configurations. Relation
// targets are resolved among infos; a target not found there is assumed
// to use the conventional table name and an "id" key.
func Models(infos []*StructInfo) ([]config.ModelConfig, error) {
	if len(infos) == 0 {
		return nil, errors.New("no structs to render")
	}
	byName := make(map[string]*StructInfo, len(infos))
	for _, info := range infos {
		byName[info.Name] = info
	}

	models := make([]config.ModelConfig, 0, len(infos))
	for _, info := range infos {
		pk, err := info.PrimaryKeyField()
		if err != nil {
			return nil, err
		}
		table := info.Table()

		m := config.ModelConfig{Name: info.Name, Table: table}
		if pk.Field != "id" {
			m.ID = pk.Field
		}
		for _, f := range info.Fields {
			switch {
			case f.PrimaryKey:
				continue
			case f.CreatedAt:
				m.Timestamps.Created = f.Field
			case f.UpdatedAt:
				m.Timestamps.Updated = f.Field
			}
			m.Fields = append(m.Fields, f.Field)
			if f.Column != naming.CamelToSnake(f.Field) {
				if m.Columns == nil {
					m.Columns = make(map[string]string)
				}
				m.Columns[f.Field] = f.Column
			}
		}
		if pk.Column != naming.CamelToSnake(pk.Field) {
			m.Columns = setColumn(m.Columns, pk.Field, pk.Column)
		}

		for _, r := range info.Relations {
			rc, err := relationConfig(table, pk.Column, r, byName[r.Target])
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", info.Name, r.Name, err)
			}
			m.Relations = append(m.Relations, rc)
		}
		models = append(models, m)
	}
	return models, nil
}

func setColumn(cols map[string]string, field, column string) map[string]string {
	if cols == nil {
		cols = make(map[string]string)
	}
	cols[field] = column
	return cols
}

func relationConfig(table, pkColumn string, r RelationInfo, target *StructInfo) (config.RelationConfig, error) {
	targetTable := naming.TableName(r.Target)
	targetPK := "id"
	if target != nil {
		pk, err := target.PrimaryKeyField()
		if err != nil {
			return config.RelationConfig{}, err
		}
		targetTable = target.Table()
		targetPK = pk.Column
	}

	rc := config.RelationConfig{Name: r.Name, Kind: r.Kind, Model: r.Target}
	switch r.Kind {
	case "many_to_many":
		rc.Join = config.JoinConfig{From: table + "." + pkColumn, To: targetTable + "." + targetPK}
		rc.Through = &config.JoinConfig{From: r.Through + "." + r.From, To: r.Through + "." + r.To}
	default:
		rc.Join = config.JoinConfig{From: table + "." + pkColumn, To: targetTable + "." + r.ForeignKey}
	}
	return rc, nil
}

// Render returns the YAML `models:` document for infos.
func Render(infos []*StructInfo) ([]byte, error) {
	models, err := Models(infos)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	doc := struct {
		Models []config.ModelConfig `yaml:"models"`
	}{models}
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode models: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode models: %w", err)
	}
	return buf.Bytes(), nil
}

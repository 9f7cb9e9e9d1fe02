package changelog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

type yamlChangeLog struct {
	DatabaseChangeLog []yaml.Node `yaml:"databaseChangeLog"`
}

type yamlEntry struct {
	ChangeSet *yamlChangeSet `yaml:"changeSet"`
}

type yamlChangeSet struct {
	ID      string       `yaml:"id"`
	Author  string       `yaml:"author"`
	Comment string       `yaml:"comment"`
	Changes []yamlChange `yaml:"changes"`
}

type yamlChange struct {
	AddColumn *yamlTable `yaml:"addColumn"`
	Insert    *yamlTable `yaml:"insert"`
	Update    *yamlTable `yaml:"update"`
	SQL       *yamlSQL   `yaml:"sql"`
}

type yamlTable struct {
	TableName string            `yaml:"tableName"`
	Columns   []yamlColumnEntry `yaml:"columns"`
	Where     string            `yaml:"where"`
}

type yamlSQL struct {
	SQL             string `yaml:"sql"`
	SplitStatements *bool  `yaml:"splitStatements"`
}

type yamlColumnEntry struct {
	Column yamlColumn `yaml:"column"`
}

type yamlColumn struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Remarks     string `yaml:"remarks"`
	AfterColumn string `yaml:"afterColumn"`
	Constraints *struct {
		Nullable *bool `yaml:"nullable"`
	} `yaml:"constraints"`

	Value         *string    `yaml:"value"`
	ValueNumeric  *string    `yaml:"valueNumeric"`
	ValueBoolean  *bool      `yaml:"valueBoolean"`
	ValueComputed *string    `yaml:"valueComputed"`
	ValueJSON     *yaml.Node `yaml:"valueJson"`

	DefaultValue         *string `yaml:"defaultValue"`
	DefaultValueNumeric  *string `yaml:"defaultValueNumeric"`
	DefaultValueBoolean  *bool   `yaml:"defaultValueBoolean"`
	DefaultValueComputed *string `yaml:"defaultValueComputed"`
}

// ParseYAML parses a structured changelog:
//
//	databaseChangeLog:
//	  - changeSet:
//	      id: "202510221000"
//	      author: someone
//	      changes:
//	        - addColumn: {tableName: t, columns: [{column: {name: c, type: int}}]}
func ParseYAML(name string, data []byte) ([]ChangeSet, error) {
	var doc yamlChangeLog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &MalformedError{File: name, Reason: "invalid YAML", Err: err}
	}
	if len(doc.DatabaseChangeLog) == 0 {
		return nil, &MalformedError{File: name, Reason: "no changeset found"}
	}

	out := make([]ChangeSet, 0, len(doc.DatabaseChangeLog))
	for i := range doc.DatabaseChangeLog {
		node := &doc.DatabaseChangeLog[i]
		entry, err := decodeEntry(node)
		if err != nil {
			return nil, &MalformedError{File: name, Line: node.Line, Reason: "invalid changeSet", Err: err}
		}
		if entry.ChangeSet == nil {
			return nil, &MalformedError{File: name, Line: node.Line, Reason: "entry is not a changeSet"}
		}
		cs, err := entry.ChangeSet.build(name)
		if err != nil {
			return nil, &MalformedError{File: name, Line: node.Line, ID: entry.ChangeSet.ID, Reason: err.Error()}
		}
		out = append(out, cs)
	}
	return out, nil
}

// decodeEntry decodes one changelog entry rejecting unknown keys. Node.Decode
// does not honour KnownFields, so the node is re-encoded and run through a
// strict decoder.
func decodeEntry(node *yaml.Node) (yamlEntry, error) {
	var entry yamlEntry
	b, err := yaml.Marshal(node)
	if err != nil {
		return entry, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&entry); err != nil {
		return entry, err
	}
	return entry, nil
}

func (y *yamlChangeSet) build(source string) (ChangeSet, error) {
	cs := ChangeSet{ID: y.ID, Author: y.Author, Comment: y.Comment, Source: source}
	switch {
	case cs.ID == "":
		return cs, errors.New("changeset lacks an id")
	case cs.Author == "":
		return cs, errors.New("changeset lacks an author")
	}
	for i, ch := range y.Changes {
		stmts, err := ch.statements()
		if err != nil {
			return cs, fmt.Errorf("change %d: %w", i, err)
		}
		cs.Statements = append(cs.Statements, stmts...)
	}
	if len(cs.Statements) == 0 {
		return cs, errors.New("changeset has no statements")
	}
	cs.computeChecksum()
	return cs, nil
}

func (c yamlChange) statements() ([]Statement, error) {
	set := 0
	for _, p := range []bool{c.AddColumn != nil, c.Insert != nil, c.Update != nil, c.SQL != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("exactly one of addColumn, insert, update or sql is required")
	}

	switch {
	case c.AddColumn != nil:
		return c.AddColumn.addColumns()
	case c.Insert != nil:
		cols, err := c.Insert.values()
		if err != nil {
			return nil, err
		}
		return []Statement{Insert{Table: c.Insert.TableName, Columns: cols}}, nil
	case c.Update != nil:
		cols, err := c.Update.values()
		if err != nil {
			return nil, err
		}
		return []Statement{Update{Table: c.Update.TableName, Columns: cols, Where: c.Update.Where}}, nil
	}

	if c.SQL.SplitStatements != nil && !*c.SQL.SplitStatements {
		if c.SQL.SQL == "" {
			return nil, errors.New("sql change is empty")
		}
		return []Statement{RawSQL{SQL: c.SQL.SQL}}, nil
	}
	parts, err := SplitStatements(c.SQL.SQL)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, errors.New("sql change is empty")
	}
	stmts := make([]Statement, len(parts))
	for i, p := range parts {
		stmts[i] = RawSQL{SQL: p}
	}
	return stmts, nil
}

func (t *yamlTable) addColumns() ([]Statement, error) {
	if t.TableName == "" || len(t.Columns) == 0 {
		return nil, errors.New("addColumn requires tableName and columns")
	}
	add := AddColumn{Table: t.TableName, Columns: make([]Column, 0, len(t.Columns))}
	for _, e := range t.Columns {
		c := e.Column
		if c.Name == "" || c.Type == "" {
			return nil, errors.New("addColumn column requires name and type")
		}
		def, err := pickValue(c.DefaultValue, c.DefaultValueNumeric, c.DefaultValueBoolean, c.DefaultValueComputed, nil)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		col := Column{
			Name:     c.Name,
			Type:     c.Type,
			Nullable: c.Constraints == nil || c.Constraints.Nullable == nil || *c.Constraints.Nullable,
			Remarks:  c.Remarks,
			After:    c.AfterColumn,
		}
		if def.Kind != ValueNull {
			col.Default = &def
		}
		add.Columns = append(add.Columns, col)
	}
	return []Statement{add}, nil
}

func (t *yamlTable) values() ([]ColumnValue, error) {
	if t.TableName == "" || len(t.Columns) == 0 {
		return nil, errors.New("tableName and columns are required")
	}
	out := make([]ColumnValue, 0, len(t.Columns))
	for _, e := range t.Columns {
		c := e.Column
		if c.Name == "" {
			return nil, errors.New("column requires a name")
		}
		v, err := pickValue(c.Value, c.ValueNumeric, c.ValueBoolean, c.ValueComputed, c.ValueJSON)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		out = append(out, ColumnValue{Name: c.Name, Value: v})
	}
	return out, nil
}

func pickValue(str, num *string, boolean *bool, computed *string, doc *yaml.Node) (Value, error) {
	var (
		v   Value
		set int
	)
	if str != nil {
		v, set = Value{Kind: ValueString, Raw: *str}, set+1
	}
	if num != nil {
		if _, err := strconv.ParseFloat(*num, 64); err != nil {
			return v, fmt.Errorf("numeric value %q: %w", *num, err)
		}
		v, set = Value{Kind: ValueNumeric, Raw: *num}, set+1
	}
	if boolean != nil {
		v, set = Value{Kind: ValueBoolean, Raw: strconv.FormatBool(*boolean)}, set+1
	}
	if computed != nil {
		v, set = Value{Kind: ValueComputed, Raw: *computed}, set+1
	}
	if doc != nil {
		raw, err := jsonDocument(doc)
		if err != nil {
			return v, err
		}
		v, set = Value{Kind: ValueJSON, Raw: raw}, set+1
	}
	if set > 1 {
		return v, errors.New("more than one value given")
	}
	return v, nil
}

// jsonDocument encodes a valueJson node. A string scalar must already hold
// JSON; any other node is converted from its YAML tree.
func jsonDocument(n *yaml.Node) (string, error) {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!str" {
		if !json.Valid([]byte(n.Value)) {
			return "", errors.New("valueJson string is not valid JSON")
		}
		return n.Value, nil
	}
	var tree any
	if err := n.Decode(&tree); err != nil {
		return "", err
	}
	b, err := json.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("encode valueJson: %w", err)
	}
	return string(b), nil
}

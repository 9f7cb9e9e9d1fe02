package changelog

import (
	"regexp"
	"strings"
)

var (
	changesetRe = regexp.MustCompile(`^--\s*changeset\b\s*(.*)$`)
	commentRe   = regexp.MustCompile(`^--\s*comment:\s*(.*)$`)
)

type sqlBlock struct {
	cs       ChangeSet
	line     int
	body     strings.Builder
	comments []string
}

// ParseSQL parses a formatted SQL changelog:
//
//	-- liquibase formatted sql
//	-- changeset author:id
//	-- comment: free text
//	ALTER TABLE ...;
//	INSERT INTO ...;
//
// Header attributes after author:id are accepted and ignored.
func ParseSQL(name string, data []byte) ([]ChangeSet, error) {
	var (
		blocks []*sqlBlock
		cur    *sqlBlock
	)
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	for n, line := range lines {
		trimmed := strings.TrimSpace(line)
		if m := changesetRe.FindStringSubmatch(trimmed); m != nil {
			author, id, reason := parseHeader(m[1])
			if reason != "" {
				return nil, &MalformedError{File: name, Line: n + 1, ID: id, Reason: reason}
			}
			cur = &sqlBlock{cs: ChangeSet{ID: id, Author: author, Source: name}, line: n + 1}
			blocks = append(blocks, cur)
			continue
		}
		if cur == nil {
			if trimmed == "" || strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "#") {
				continue
			}
			return nil, &MalformedError{File: name, Line: n + 1, Reason: "statement before the first changeset header"}
		}
		if m := commentRe.FindStringSubmatch(trimmed); m != nil {
			cur.comments = append(cur.comments, strings.TrimSpace(m[1]))
			continue
		}
		cur.body.WriteString(line)
		cur.body.WriteByte('\n')
	}
	if len(blocks) == 0 {
		return nil, &MalformedError{File: name, Reason: "no changeset header found"}
	}

	out := make([]ChangeSet, 0, len(blocks))
	for _, b := range blocks {
		stmts, err := SplitStatements(b.body.String())
		if err != nil {
			return nil, &MalformedError{File: name, Line: b.line, ID: b.cs.ID, Reason: "cannot split statements", Err: err}
		}
		if len(stmts) == 0 {
			return nil, &MalformedError{File: name, Line: b.line, ID: b.cs.ID, Reason: "changeset has no statements"}
		}
		cs := b.cs
		cs.Comment = strings.Join(b.comments, " ")
		for _, s := range stmts {
			cs.Statements = append(cs.Statements, RawSQL{SQL: s})
		}
		cs.computeChecksum()
		out = append(out, cs)
	}
	return out, nil
}

func parseHeader(rest string) (author, id, reason string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", "", "changeset header lacks author:id"
	}
	author, id, found := strings.Cut(fields[0], ":")
	author, id = strings.TrimSpace(author), strings.TrimSpace(id)
	switch {
	case !found || id == "":
		return author, id, "changeset header lacks an id"
	case author == "":
		return author, id, "changeset header lacks an author"
	}
	return author, id, ""
}

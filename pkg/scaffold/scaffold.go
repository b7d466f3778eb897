package scaffold

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
	"gopkg.in/yaml.v3"
)

// Manifest is the declarative project description users upload as
// manifest.yaml. Entities become tables and CRUD routes in the
// generated scaffold.
type Manifest struct {
	Name     string   `yaml:"name"`
	Port     int      `yaml:"port"`
	Entities []Entity `yaml:"entities"`
}

// Entity is one declared data type.
type Entity struct {
	Name   string  `yaml:"name"`
	Fields []Field `yaml:"fields"`
}

// Field is one attribute of an entity.
type Field struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // text, longtext, number, boolean, date
	Required bool   `yaml:"required"`
}

// manifestNames are the file names that mark a project as
// manifest-generated.
var manifestNames = []string{"manifest.yaml", "manifest.yml"}

// FindManifest returns the manifest file name present in files, if any.
func FindManifest(files map[string][]byte) (string, bool) {
	for _, name := range manifestNames {
		if _, ok := files[name]; ok {
			return name, true
		}
	}
	return "", false
}

// Parse decodes and validates a manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, types.Validationf("invalid manifest: %v", err)
	}
	if len(m.Entities) == 0 {
		return nil, types.Validationf("manifest declares no entities")
	}
	for _, e := range m.Entities {
		if e.Name == "" {
			return nil, types.Validationf("manifest entity missing name")
		}
		for _, f := range e.Fields {
			if f.Name == "" {
				return nil, types.Validationf("entity %s has a field without a name", e.Name)
			}
			switch f.Type {
			case "text", "longtext", "number", "boolean", "date":
			default:
				return nil, types.Validationf("entity %s field %s has unknown type %q", e.Name, f.Name, f.Type)
			}
		}
	}
	if m.Name == "" {
		m.Name = "generated-app"
	}
	if m.Port == 0 {
		m.Port = 3000
	}
	return &m, nil
}

// Generate synthesizes the project files for a manifest and merges the
// user's own files over them: a user-provided path always wins on
// conflict. Output is deterministic for a given input.
func Generate(m *Manifest, userFiles map[string][]byte) map[string][]byte {
	out := map[string][]byte{
		"package.json": []byte(packageJSON(m)),
		"index.js":     []byte(indexJS(m)),
		"database.js":  []byte(databaseJS(m)),
		"README.md":    []byte(readme(m)),
	}
	for path, content := range userFiles {
		out[path] = content
	}
	return out
}

func packageJSON(m *Manifest) string {
	return fmt.Sprintf(`{
  "name": %q,
  "version": "1.0.0",
  "main": "index.js",
  "scripts": {
    "start": "node index.js"
  },
  "dependencies": {
    "express": "^4.19.0",
    "better-sqlite3": "^11.0.0"
  }
}
`, m.Name)
}

func indexJS(m *Manifest) string {
	var b strings.Builder
	b.WriteString("const express = require('express');\n")
	b.WriteString("const db = require('./database');\n\n")
	b.WriteString("const app = express();\n")
	b.WriteString("app.use(express.json());\n\n")
	b.WriteString("app.get('/health', (req, res) => res.json({ status: 'ok' }));\n\n")

	for _, e := range m.Entities {
		table := tableName(e.Name)
		route := "/" + table

		fmt.Fprintf(&b, "app.get('%s', (req, res) => {\n", route)
		fmt.Fprintf(&b, "  res.json(db.prepare('SELECT * FROM %s').all());\n", table)
		b.WriteString("});\n\n")

		fmt.Fprintf(&b, "app.post('%s', (req, res) => {\n", route)
		for _, f := range e.Fields {
			if f.Required {
				fmt.Fprintf(&b, "  if (req.body.%s === undefined) return res.status(400).json({ error: '%s is required' });\n", f.Name, f.Name)
			}
		}
		cols := fieldNames(e)
		placeholders := make([]string, len(cols))
		refs := make([]string, len(cols))
		for i, c := range cols {
			placeholders[i] = "?"
			refs[i] = "req.body." + c
		}
		fmt.Fprintf(&b, "  const result = db.prepare('INSERT INTO %s (%s) VALUES (%s)').run(%s);\n",
			table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(refs, ", "))
		b.WriteString("  res.status(201).json({ id: result.lastInsertRowid });\n")
		b.WriteString("});\n\n")

		fmt.Fprintf(&b, "app.get('%s/:id', (req, res) => {\n", route)
		fmt.Fprintf(&b, "  const row = db.prepare('SELECT * FROM %s WHERE id = ?').get(req.params.id);\n", table)
		b.WriteString("  if (!row) return res.status(404).json({ error: 'not found' });\n")
		b.WriteString("  res.json(row);\n")
		b.WriteString("});\n\n")

		fmt.Fprintf(&b, "app.delete('%s/:id', (req, res) => {\n", route)
		fmt.Fprintf(&b, "  db.prepare('DELETE FROM %s WHERE id = ?').run(req.params.id);\n", table)
		b.WriteString("  res.status(204).end();\n")
		b.WriteString("});\n\n")
	}

	fmt.Fprintf(&b, "const port = process.env.PORT || %d;\n", m.Port)
	b.WriteString("app.listen(port, () => console.log(`listening on ${port}`));\n")
	return b.String()
}

func databaseJS(m *Manifest) string {
	var b strings.Builder
	b.WriteString("const Database = require('better-sqlite3');\n")
	b.WriteString("const db = new Database('app.db');\n\n")

	for _, e := range m.Entities {
		fmt.Fprintf(&b, "db.exec(`CREATE TABLE IF NOT EXISTS %s (\n", tableName(e.Name))
		b.WriteString("  id INTEGER PRIMARY KEY AUTOINCREMENT")
		for _, f := range e.Fields {
			fmt.Fprintf(&b, ",\n  %s %s", f.Name, sqlType(f.Type))
			if f.Required {
				b.WriteString(" NOT NULL")
			}
		}
		b.WriteString("\n)`);\n\n")
	}

	b.WriteString("module.exports = db;\n")
	return b.String()
}

func readme(m *Manifest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\nGenerated from manifest.yaml.\n\n## Endpoints\n\n", m.Name)
	for _, e := range m.Entities {
		route := "/" + tableName(e.Name)
		fmt.Fprintf(&b, "- `GET %s`, `POST %s`, `GET %s/:id`, `DELETE %s/:id`\n", route, route, route, route)
	}
	b.WriteString("\nRun with `npm install && npm start`.\n")
	return b.String()
}

func sqlType(t string) string {
	switch t {
	case "number":
		return "REAL"
	case "boolean":
		return "INTEGER"
	case "date":
		return "TEXT"
	default: // text, longtext
		return "TEXT"
	}
}

// tableName lowercases and pluralizes an entity name (Post -> posts).
func tableName(entity string) string {
	name := strings.ToLower(entity)
	if strings.HasSuffix(name, "s") {
		return name + "es"
	}
	if strings.HasSuffix(name, "y") {
		return name[:len(name)-1] + "ies"
	}
	return name + "s"
}

func fieldNames(e Entity) []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	sort.Strings(names)
	return names
}

package scaffold

import (
	"testing"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
name: blog
entities:
  - name: Post
    fields:
      - name: title
        type: text
        required: true
      - name: body
        type: longtext
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)
	assert.Equal(t, "blog", m.Name)
	assert.Equal(t, 3000, m.Port)
	require.Len(t, m.Entities, 1)
	assert.Equal(t, "Post", m.Entities[0].Name)
	require.Len(t, m.Entities[0].Fields, 2)
	assert.True(t, m.Entities[0].Fields[0].Required)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
	}{
		{"no entities", "name: empty\n"},
		{"unnamed entity", "entities:\n  - fields:\n      - name: x\n        type: text\n"},
		{"unknown field type", "entities:\n  - name: Post\n    fields:\n      - name: x\n        type: blob\n"},
		{"not yaml", "{{{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.manifest))
			require.Error(t, err)
			assert.Equal(t, types.ErrValidation, types.CategoryOf(err))
		})
	}
}

func TestGenerate(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	files := Generate(m, nil)
	require.Contains(t, files, "package.json")
	require.Contains(t, files, "index.js")
	require.Contains(t, files, "database.js")
	require.Contains(t, files, "README.md")

	index := string(files["index.js"])
	assert.Contains(t, index, "app.get('/posts'")
	assert.Contains(t, index, "app.post('/posts'")
	assert.Contains(t, index, "title is required")

	db := string(files["database.js"])
	assert.Contains(t, db, "CREATE TABLE IF NOT EXISTS posts")
	assert.Contains(t, db, "title TEXT NOT NULL")
}

func TestGenerateUserFilesWin(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	files := Generate(m, map[string][]byte{
		"index.js":  []byte("custom"),
		"extra.txt": []byte("kept"),
	})
	assert.Equal(t, "custom", string(files["index.js"]))
	assert.Equal(t, "kept", string(files["extra.txt"]))
	assert.Contains(t, string(files["package.json"]), `"blog"`)
}

func TestFindManifest(t *testing.T) {
	_, ok := FindManifest(map[string][]byte{"index.js": nil})
	assert.False(t, ok)

	name, ok := FindManifest(map[string][]byte{"manifest.yaml": nil})
	require.True(t, ok)
	assert.Equal(t, "manifest.yaml", name)

	name, ok = FindManifest(map[string][]byte{"manifest.yml": nil})
	require.True(t, ok)
	assert.Equal(t, "manifest.yml", name)
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "posts", tableName("Post"))
	assert.Equal(t, "categories", tableName("Category"))
	assert.Equal(t, "statuses", tableName("Status"))
}

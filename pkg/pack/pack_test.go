package pack

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleManifest = `name: team-mailer
version: 2.1.0
description: Outbound mail tools
tools:
  - name: send_email
    description: Send an email to one recipient
    sideEffects: [send]
    inputSchema:
      type: object
      required: [to]
      properties:
        to: {type: string}
        subject: {type: string}
  - name: list_drafts
    schema: schemas/list_drafts.json
`

const draftSchema = `{
  "type": "object",
  "properties": {
    "limit": {"type": "integer"}
  }
}`

func writePack(t *testing.T, manifest string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "schemas"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestName), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "schemas", "list_drafts.json"), []byte(draftSchema), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoad_FromDirectory(t *testing.T) {
	dir := writePack(t, sampleManifest)

	p, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.ID() != "team-mailer@2.1.0" {
		t.Fatalf("unexpected pack ID %q", p.ID())
	}
	if len(p.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(p.Tools))
	}
	if p.Dir != dir {
		t.Fatalf("expected Dir %q, got %q", dir, p.Dir)
	}
}

func TestLoad_FromManifestPath(t *testing.T) {
	dir := writePack(t, sampleManifest)

	p, err := Load(filepath.Join(dir, ManifestName))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "team-mailer" {
		t.Fatalf("unexpected pack name %q", p.Name)
	}
}

func TestLoad_ResolvesFileSchema(t *testing.T) {
	dir := writePack(t, sampleManifest)

	p, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tool := p.Tool("list_drafts")
	if tool == nil {
		t.Fatal("list_drafts not found")
	}
	if tool.InputSchema == nil {
		t.Fatal("file schema was not resolved into InputSchema")
	}
	props, ok := tool.InputSchema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected schema shape: %v", tool.InputSchema)
	}
	if _, ok := props["limit"]; !ok {
		t.Fatalf("expected limit property, got %v", props)
	}
}

func TestLoad_InlineSchemaKept(t *testing.T) {
	dir := writePack(t, sampleManifest)

	p, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tool := p.Tool("send_email")
	if tool == nil || tool.InputSchema == nil {
		t.Fatal("send_email inline schema missing")
	}
	if got := tool.SideEffects; len(got) != 1 || got[0] != "send" {
		t.Fatalf("unexpected side effects %v", got)
	}
}

func TestLoad_RejectsBadManifests(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
		want     string
	}{
		{
			name:     "missing name",
			manifest: "version: 1.0.0\ntools:\n  - name: a\n",
			want:     "name is required",
		},
		{
			name:     "name with at sign",
			manifest: "name: a@b\ntools:\n  - name: a\n",
			want:     "must not contain",
		},
		{
			name:     "no tools",
			manifest: "name: empty\nversion: 1.0.0\n",
			want:     "declares no tools",
		},
		{
			name:     "duplicate tool",
			manifest: "name: dup\ntools:\n  - name: a\n  - name: a\n",
			want:     "duplicate tool",
		},
		{
			name:     "schema escapes pack dir",
			manifest: "name: esc\ntools:\n  - name: a\n    schema: ../outside.json\n",
			want:     "escapes the pack directory",
		},
		{
			name:     "both schema forms",
			manifest: "name: both\ntools:\n  - name: a\n    schema: schemas/list_drafts.json\n    inputSchema:\n      type: object\n",
			want:     "both schema and inputSchema",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := writePack(t, tc.manifest)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseID(t *testing.T) {
	cases := []struct {
		id         string
		name, vers string
	}{
		{"team-mailer@2.1.0", "team-mailer", "2.1.0"},
		{"team-mailer", "team-mailer", ""},
		{"crm@1.0.0-rc1", "crm", "1.0.0-rc1"},
	}
	for _, tc := range cases {
		name, vers := ParseID(tc.id)
		if name != tc.name || vers != tc.vers {
			t.Fatalf("ParseID(%q) = (%q, %q), want (%q, %q)", tc.id, name, vers, tc.name, tc.vers)
		}
	}
}

func TestFiles_CoversManifestAndSchemas(t *testing.T) {
	dir := writePack(t, sampleManifest)

	p, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	files := p.Files()
	if len(files) != 2 {
		t.Fatalf("expected manifest plus one schema file, got %v", files)
	}
	if files[0] != filepath.Join(dir, ManifestName) {
		t.Fatalf("first entry should be the manifest, got %q", files[0])
	}
	if files[1] != filepath.Join(dir, "schemas", "list_drafts.json") {
		t.Fatalf("unexpected schema path %q", files[1])
	}
}

package stack

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/doninones/actionpacks/pkg/pack"
)

const mailerManifest = `name: team-mailer
version: 2.1.0
tools:
  - name: send_email
    schema: schemas/send_email.json
`

const sendSchema = `{"type": "object", "required": ["to"]}`

func writeTestPack(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "schemas"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, pack.ManifestName), []byte(mailerManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "schemas", "send_email.json"), []byte(sendSchema), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoad_MissingFileIsEmptyStack(t *testing.T) {
	s, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Packs) != 0 {
		t.Fatalf("expected empty stack, got %+v", s.Packs)
	}
}

func TestStack_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := &Stack{}
	s.Add(Entry{Name: "team-mailer", Version: "2.1.0", Path: "/packs/team-mailer"})

	if err := s.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Packs) != 1 || reloaded.Packs[0].ID() != "team-mailer@2.1.0" {
		t.Fatalf("stack did not survive round trip: %+v", reloaded.Packs)
	}
}

func TestStack_AddReplacesSameName(t *testing.T) {
	s := &Stack{}
	s.Add(Entry{Name: "team-mailer", Version: "1.0.0", Path: "/old"})
	s.Add(Entry{Name: "team-mailer", Version: "2.1.0", Path: "/new"})

	if len(s.Packs) != 1 {
		t.Fatalf("expected one entry per pack name, got %+v", s.Packs)
	}
	if s.Packs[0].Version != "2.1.0" || s.Packs[0].Path != "/new" {
		t.Fatalf("expected replacement, got %+v", s.Packs[0])
	}
}

func TestStack_FindByNameOrID(t *testing.T) {
	s := &Stack{}
	s.Add(Entry{Name: "team-mailer", Version: "2.1.0", Path: "/p"})

	if e := s.Find("team-mailer"); e == nil {
		t.Fatal("expected lookup by bare name to succeed")
	}
	if e := s.Find("team-mailer@2.1.0"); e == nil {
		t.Fatal("expected lookup by full identity to succeed")
	}
	if e := s.Find("team-mailer@9.9.9"); e != nil {
		t.Fatalf("expected no match for wrong version, got %+v", e)
	}
}

func TestStack_Remove(t *testing.T) {
	s := &Stack{}
	s.Add(Entry{Name: "a", Path: "/a"})

	if !s.Remove("a") {
		t.Fatal("expected Remove to report presence")
	}
	if s.Remove("a") {
		t.Fatal("expected second Remove to report absence")
	}
}

func TestLock_RoundTripAndVerify(t *testing.T) {
	packDir := writeTestPack(t)
	workDir := t.TempDir()

	s := &Stack{}
	s.Add(Entry{Name: "team-mailer", Version: "2.1.0", Path: packDir})

	lf, err := BuildLock(s)
	if err != nil {
		t.Fatalf("BuildLock: %v", err)
	}
	if len(lf.Packs) != 1 || len(lf.Packs[0].Files) != 2 {
		t.Fatalf("expected manifest plus schema digests, got %+v", lf)
	}
	if err := lf.Save(workDir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadLock(workDir)
	if err != nil {
		t.Fatalf("LoadLock: %v", err)
	}
	if err := Verify(s, reloaded); err != nil {
		t.Fatalf("Verify on untouched pack: %v", err)
	}
}

func TestVerify_DetectsTamperedSchema(t *testing.T) {
	packDir := writeTestPack(t)

	s := &Stack{}
	s.Add(Entry{Name: "team-mailer", Version: "2.1.0", Path: packDir})

	lf, err := BuildLock(s)
	if err != nil {
		t.Fatalf("BuildLock: %v", err)
	}

	tampered := filepath.Join(packDir, "schemas", "send_email.json")
	if err := os.WriteFile(tampered, []byte(`{"type": "object"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	err = Verify(s, lf)
	if err == nil {
		t.Fatal("expected Verify to flag the changed schema")
	}
	if !strings.Contains(err.Error(), "send_email.json") {
		t.Fatalf("error should name the file, got %v", err)
	}
}

func TestVerify_MissingLockfile(t *testing.T) {
	if err := Verify(&Stack{}, nil); err == nil {
		t.Fatal("expected error when no lockfile exists")
	}
}

func TestVerify_UnlockedPack(t *testing.T) {
	packDir := writeTestPack(t)

	s := &Stack{}
	s.Add(Entry{Name: "team-mailer", Version: "2.1.0", Path: packDir})

	err := Verify(s, &LockFile{})
	if err == nil || !strings.Contains(err.Error(), "not locked") {
		t.Fatalf("expected not-locked error, got %v", err)
	}
}

func TestVerify_VersionDrift(t *testing.T) {
	packDir := writeTestPack(t)

	s := &Stack{}
	s.Add(Entry{Name: "team-mailer", Version: "2.1.0", Path: packDir})

	lf, err := BuildLock(s)
	if err != nil {
		t.Fatal(err)
	}

	bumped := strings.Replace(mailerManifest, "2.1.0", "3.0.0", 1)
	if err := os.WriteFile(filepath.Join(packDir, pack.ManifestName), []byte(bumped), 0o644); err != nil {
		t.Fatal(err)
	}

	err = Verify(s, lf)
	if err == nil {
		t.Fatal("expected Verify to flag version drift")
	}
}

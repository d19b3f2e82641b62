package bundle

import (
	"encoding/hex"
	stderrors "errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/colrdavidson/spall-web/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestNewBuildID(t *testing.T) {
	a := NewBuildID(SeededIDSource(42))
	b := NewBuildID(SeededIDSource(42))
	if a != b {
		t.Errorf("seeded ids differ: %s vs %s", a, b)
	}
	if c := NewBuildID(SeededIDSource(43)); c == a {
		t.Errorf("different seeds produced the same id %s", c)
	}

	src := NewIDSource()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewBuildID(src)
		if !ValidBuildID(id) {
			t.Fatalf("invalid id %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 999 {
		t.Errorf("only %d distinct ids in 1000 draws", len(seen))
	}
}

func TestValidBuildID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"AB12CD34", true},
		{"ZZZZZZZZ", true},
		{"00000000", true},
		{"ab12cd34", false},
		{"AB12CD3", false},
		{"AB12CD345", false},
		{"AB12-D34", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidBuildID(tt.id); got != tt.want {
			t.Errorf("ValidBuildID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"runtime.js", "runtime.AB12CD34.js"},
		{"src/runtime.js", "runtime.AB12CD34.js"},
		{"src/spall.wasm", "spall.AB12CD34.wasm"},
		{"archive.tar.gz", "archive.tar.AB12CD34.gz"},
		{"LICENSE", "LICENSE.AB12CD34"},
		{".env", ".env.AB12CD34"},
		{`src\worker.js`, "worker.AB12CD34.js"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fingerprint(tt.name, "AB12CD34"); got != tt.want {
				t.Errorf("Fingerprint(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestDocumentReplace(t *testing.T) {
	orig := NewDocument(`<script src="runtime.js"></script><script>load("runtime.js")</script>`)
	next, n := orig.Replace("runtime.js", "runtime.X.js")
	if n != 2 {
		t.Errorf("replaced %d, want 2", n)
	}
	if orig.Count("runtime.js") != 2 {
		t.Error("original document was modified")
	}
	if next.Count("runtime.X.js") != 2 || next.Count("runtime.js") != 0 {
		t.Errorf("next = %s", next.Text())
	}
	if same, n := next.Replace("absent", "x"); n != 0 || same.Text() != next.Text() {
		t.Error("replacing an absent string should be a no-op")
	}
	if NewDocument("abc").Count("") != 0 {
		t.Error("empty needle should count zero")
	}
}

func TestBundleRuntimeAndModule(t *testing.T) {
	root := t.TempDir()
	buildDir := filepath.Join(root, "build")
	writeFile(t, filepath.Join(root, "src", "runtime.js"), "console.log('runtime')")
	writeFile(t, filepath.Join(buildDir, "app.wasm"), "\x00asm\x01\x00\x00\x00")
	html := `<html><script src="runtime.js"></script><body data-wasm="app.wasm"></body></html>`

	dist := NewDist(buildDir, filepath.Join(buildDir, "dist"))
	staging, err := dist.Stage()
	if err != nil {
		t.Fatal(err)
	}
	fp, err := NewFingerprinter("AB12CD34", staging)
	if err != nil {
		t.Fatal(err)
	}

	assets := []Asset{
		{Source: filepath.Join(root, "src", "runtime.js"), Embed: "src/runtime.js"},
		{Source: filepath.Join(buildDir, "app.wasm"), Embed: "src/app.wasm"},
	}
	doc, entries, err := fp.ApplyAll(NewDocument(html), assets)
	if err != nil {
		t.Fatalf("ApplyAll failed: %v", err)
	}
	if err := dist.Commit(doc, "index.html"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	files, err := dist.Files()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"app.AB12CD34.wasm", "index.html", "runtime.AB12CD34.js"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("dist files = %v, want %v", files, want)
	}
	if exists(staging) {
		t.Error("staging directory should be gone after commit")
	}

	out, err := os.ReadFile(filepath.Join(dist.Dir(), "index.html"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(out)
	for _, name := range []string{"runtime.AB12CD34.js", "app.AB12CD34.wasm"} {
		if strings.Count(text, name) != 1 {
			t.Errorf("document should reference %s once: %s", name, text)
		}
	}
	if strings.Contains(text, `"runtime.js"`) || strings.Contains(text, `"app.wasm"`) {
		t.Errorf("original names remain: %s", text)
	}

	copied, err := os.ReadFile(filepath.Join(dist.Dir(), "runtime.AB12CD34.js"))
	if err != nil || string(copied) != "console.log('runtime')" {
		t.Errorf("runtime copy = %q, %v", copied, err)
	}

	sum := blake3.Sum256([]byte("\x00asm\x01\x00\x00\x00"))
	if e := entries[1]; e.Name != "app.wasm" || e.Size != 8 || e.References != 1 || e.Digest != hex.EncodeToString(sum[:]) {
		t.Errorf("entry = %+v", e)
	}
}

func TestFingerprinterCheck(t *testing.T) {
	fp, err := NewFingerprinter("AB12CD34", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		assets []Asset
		ok     bool
	}{
		{"distinct", []Asset{{Source: "a", Embed: "runtime.js"}, {Source: "b", Embed: "spall.wasm"}}, true},
		{"duplicate basename", []Asset{{Source: "a", Embed: "src/a.js"}, {Source: "b", Embed: "lib/a.js"}}, false},
		{"substring of other name", []Asset{{Source: "a", Embed: "app.wasm"}, {Source: "b", Embed: "myapp.wasm"}}, false},
		{"substring of fingerprint", []Asset{{Source: "a", Embed: "AB12CD34"}, {Source: "b", Embed: "x.js"}}, false},
		{"no embed name", []Asset{{Source: "a"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fp.Check(tt.assets)
			if tt.ok {
				if err != nil {
					t.Errorf("Check() failed: %v", err)
				}
				return
			}
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseFingerprint, Kind: errors.KindInvalidInput}) {
				t.Errorf("Check() = %v, want invalid input", err)
			}
		})
	}
}

func TestFingerprinterErrors(t *testing.T) {
	if _, err := NewFingerprinter("short", t.TempDir()); err == nil {
		t.Error("expected invalid build id error")
	}

	dir := t.TempDir()
	fp, err := NewFingerprinter("AB12CD34", dir)
	if err != nil {
		t.Fatal(err)
	}
	doc := NewDocument("runtime.js")
	got, _, err := fp.Apply(doc, Asset{Source: filepath.Join(dir, "missing.js"), Embed: "runtime.js"})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseFingerprint, Kind: errors.KindNotFound}) {
		t.Errorf("got %v", err)
	}
	if got.Text() != "runtime.js" {
		t.Error("document should be unchanged on error")
	}
}

func TestFingerprinterUnreferenced(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "worker.js"), "w")
	core, logs := observer.New(zap.WarnLevel)

	fp, err := NewFingerprinter("AB12CD34", dir, WithFingerprintLogger(zap.New(core)))
	if err != nil {
		t.Fatal(err)
	}
	doc, entry, err := fp.Apply(NewDocument("<html></html>"), Asset{Source: filepath.Join(dir, "src", "worker.js"), Embed: "worker.js"})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Text() != "<html></html>" || entry.References != 0 {
		t.Errorf("doc=%q refs=%d", doc.Text(), entry.References)
	}
	if !exists(filepath.Join(dir, "worker.AB12CD34.js")) {
		t.Error("unreferenced asset should still be copied")
	}
	if logs.FilterMessage("asset is not referenced by the host document").Len() != 1 {
		t.Error("expected a warning for the unreferenced asset")
	}
}

func TestDistClean(t *testing.T) {
	root := t.TempDir()
	buildDir := filepath.Join(root, "build")
	for _, name := range []string{"spall.o", "spall.wasm", "spall.wat", "nested/deep/x.wasm", "keep.txt", "dist/index.html", ".dist.staging/old.js"} {
		writeFile(t, filepath.Join(buildDir, name), "x")
	}

	d := NewDist(buildDir, filepath.Join(buildDir, "dist"))
	if err := d.Clean(); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	for _, gone := range []string{"spall.o", "spall.wasm", "spall.wat", "nested/deep/x.wasm", "dist", ".dist.staging"} {
		if exists(filepath.Join(buildDir, gone)) {
			t.Errorf("%s should have been removed", gone)
		}
	}
	if !exists(filepath.Join(buildDir, "keep.txt")) {
		t.Error("keep.txt should survive")
	}

	fresh := filepath.Join(root, "fresh", "build")
	if err := NewDist(fresh, filepath.Join(fresh, "dist")).Clean(); err != nil {
		t.Fatalf("Clean on missing dir failed: %v", err)
	}
	if !exists(fresh) {
		t.Error("build directory should be created")
	}
}

func TestDistCleanCustomPatterns(t *testing.T) {
	buildDir := t.TempDir()
	writeFile(t, filepath.Join(buildDir, "a.wasm"), "x")
	writeFile(t, filepath.Join(buildDir, "b.map"), "x")

	if err := NewDist(buildDir, filepath.Join(buildDir, "dist"), WithIntermediates("*.map")).Clean(); err != nil {
		t.Fatal(err)
	}
	if !exists(filepath.Join(buildDir, "a.wasm")) || exists(filepath.Join(buildDir, "b.map")) {
		t.Error("only *.map should be removed")
	}
}

func TestDistDiscardAndCommit(t *testing.T) {
	buildDir := t.TempDir()
	d := NewDist(buildDir, filepath.Join(buildDir, "dist"))

	staging, err := d.Stage()
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(staging, "partial.js"), "x")
	if err := d.Discard(); err != nil {
		t.Fatal(err)
	}
	if exists(staging) || exists(d.Dir()) {
		t.Error("discard should leave neither staging nor dist")
	}

	writeFile(t, filepath.Join(d.Dir(), "stale.js"), "old")
	if _, err := d.Stage(); err != nil {
		t.Fatal(err)
	}
	if err := d.Commit(NewDocument("<html/>"), "index.html"); err != nil {
		t.Fatal(err)
	}
	files, err := d.Files()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(files, []string{"index.html"}) {
		t.Errorf("files = %v", files)
	}
}
